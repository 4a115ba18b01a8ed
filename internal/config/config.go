package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/navigation"
	"github.com/gravewalk/server/internal/lib/tracking"
)

// EnvPrefix marks environment overrides. Nested keys use a double underscore,
// e.g. GRAVEWALK_ROUTING__GOOGLE_ROUTES__API_KEY.
const EnvPrefix = "GRAVEWALK_"

// Config represents the complete server configuration
type Config struct {
	Server     ServerConfig        `yaml:"server"`
	Cemetery   cemetery.Definition `yaml:"cemetery"`
	Navigation NavigationConfig    `yaml:"navigation"`
	Tracking   tracking.Policy     `yaml:"tracking"`
	Routing    RoutingConfig       `yaml:"routing"`
	Narration  NarrationConfig     `yaml:"narration"`
	Graves     GravesConfig        `yaml:"graves"`
	Events     EventsConfig        `yaml:"events"`
}

// ServerConfig holds session registry housekeeping settings. The listen
// address itself belongs to prefab's own configuration.
type ServerConfig struct {
	SessionIdleTimeout   time.Duration `yaml:"session_idle_timeout"`
	ReaperInterval       time.Duration `yaml:"reaper_interval"`
	CacheCleanupInterval time.Duration `yaml:"cache_cleanup_interval"`
	AllowedOrigins       []string      `yaml:"allowed_origins"`
}

// NavigationConfig holds the thresholds used by every session
type NavigationConfig struct {
	NearMeters           float64       `yaml:"near_meters"`
	ArrivalMeters        float64       `yaml:"arrival_meters"`
	RouteRefreshInterval time.Duration `yaml:"route_refresh_interval"`
	BoundaryDebounce     int           `yaml:"boundary_debounce"`
	OnPathMeters         float64       `yaml:"on_path_meters"`
	NearPathMeters       float64       `yaml:"near_path_meters"`
}

// Thresholds converts the configured distances for navigation.Session
func (n NavigationConfig) Thresholds() navigation.Thresholds {
	return navigation.Thresholds{
		NearMeters:    n.NearMeters,
		ArrivalMeters: n.ArrivalMeters,
	}
}

// RoutingConfig holds outdoor routing settings
type RoutingConfig struct {
	GoogleRoutes GoogleConfig  `yaml:"google_routes"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// GoogleConfig holds Google Routes API settings
type GoogleConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// NarrationConfig holds OpenAI narration settings. Narration is off without an API key.
type NarrationConfig struct {
	OpenAI   OpenAIConfig  `yaml:"openai"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// OpenAIConfig holds OpenAI API settings
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// GravesConfig selects the grave directory. DatabaseURL wins over Static when set.
type GravesConfig struct {
	DatabaseURL string                 `yaml:"database_url"`
	MaxConns    int32                  `yaml:"max_conns"`
	Static      []cemetery.GraveRecord `yaml:"static"`
}

// EventsConfig holds the NATS arrival publisher settings. Empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			SessionIdleTimeout:   15 * time.Minute,
			ReaperInterval:       time.Minute,
			CacheCleanupInterval: 10 * time.Minute,
			AllowedOrigins:       []string{"*"},
		},
		// Zincirlikuyu Mezarlığı, Istanbul
		Cemetery: cemetery.Definition{
			Name: "Zincirlikuyu",
			Boundary: []geo.Point{
				{Latitude: 41.0700, Longitude: 29.0120},
				{Latitude: 41.0700, Longitude: 29.0170},
				{Latitude: 41.0735, Longitude: 29.0170},
				{Latitude: 41.0735, Longitude: 29.0120},
			},
			Paths: []cemetery.Path{
				{Name: "Main Avenue", Points: []geo.Point{
					{Latitude: 41.0700, Longitude: 29.0145},
					{Latitude: 41.0735, Longitude: 29.0145},
				}},
				{Name: "East Row", Points: []geo.Point{
					{Latitude: 41.0718, Longitude: 29.0145},
					{Latitude: 41.0718, Longitude: 29.0165},
				}},
			},
			Entrance:           geo.Point{Latitude: 41.0700, Longitude: 29.0145},
			FallbackCoordinate: geo.Point{Latitude: 41.0717, Longitude: 29.0148},
		},
		Navigation: NavigationConfig{
			NearMeters:           navigation.DefaultNearThresholdMeters,
			ArrivalMeters:        navigation.DefaultArrivalThresholdMeters,
			RouteRefreshInterval: 30 * time.Second,
			OnPathMeters:         5,
			NearPathMeters:       25,
		},
		Tracking: tracking.DefaultPolicy(),
		Routing: RoutingConfig{
			GoogleRoutes: GoogleConfig{
				BaseURL: "https://routes.googleapis.com",
			},
			CacheTTL: 10 * time.Minute,
		},
		Narration: NarrationConfig{
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
			CacheTTL: 24 * time.Hour,
		},
		Graves: GravesConfig{
			MaxConns: 4,
		},
		Events: EventsConfig{
			SubjectPrefix: "gravewalk.arrivals",
		},
	}
}

// Load reads defaults, then the optional YAML file at path, then GRAVEWALK_ environment variables
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides behaves like Load and applies overrides last. Keys are
// dotted paths such as "navigation.near_meters".
func LoadWithOverrides(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	cfg := DefaultConfig()

	// Lists replace their defaults instead of merging element by element
	for key, reset := range map[string]func(){
		"server.allowed_origins": func() { cfg.Server.AllowedOrigins = nil },
		"cemetery.boundary":      func() { cfg.Cemetery.Boundary = nil },
		"cemetery.paths":         func() { cfg.Cemetery.Paths = nil },
		"graves.static":          func() { cfg.Graves.Static = nil },
	} {
		if k.Exists(key) {
			reset()
		}
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// envKey maps GRAVEWALK_ROUTING__GOOGLE_ROUTES__API_KEY to routing.google_routes.api_key
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var errs []string

	if _, err := cemetery.NewGeography(c.Cemetery); err != nil {
		errs = append(errs, fmt.Sprintf("cemetery: %v", err))
	}

	if c.Navigation.ArrivalMeters <= 0 {
		errs = append(errs, "navigation.arrival_meters must be positive")
	}
	if c.Navigation.NearMeters < c.Navigation.ArrivalMeters {
		errs = append(errs, "navigation.near_meters must be at least navigation.arrival_meters")
	}
	if c.Navigation.BoundaryDebounce < 0 {
		errs = append(errs, "navigation.boundary_debounce must not be negative")
	}
	if c.Navigation.NearPathMeters < c.Navigation.OnPathMeters {
		errs = append(errs, "navigation.near_path_meters must be at least navigation.on_path_meters")
	}

	if c.Tracking.MinInterval < 0 || c.Tracking.MinDistanceMeters < 0 {
		errs = append(errs, "tracking policy values must not be negative")
	}

	if c.Server.SessionIdleTimeout <= 0 {
		errs = append(errs, "server.session_idle_timeout must be positive")
	}
	if c.Server.ReaperInterval <= 0 {
		errs = append(errs, "server.reaper_interval must be positive")
	}

	if c.Routing.GoogleRoutes.APIKey == "" {
		errs = append(errs, "routing.google_routes.api_key is required")
	}

	if c.Graves.DatabaseURL == "" && len(c.Graves.Static) == 0 {
		errs = append(errs, "graves: either database_url or static records are required")
	}
	seen := make(map[string]bool, len(c.Graves.Static))
	for i, g := range c.Graves.Static {
		if g.ID == "" {
			errs = append(errs, fmt.Sprintf("graves.static[%d]: id is required", i))
			continue
		}
		if seen[g.ID] {
			errs = append(errs, fmt.Sprintf("graves.static[%d]: duplicate id %q", i, g.ID))
		}
		seen[g.ID] = true
	}

	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		errs = append(errs, "events.subject_prefix is required when events.nats_url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
