package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"

	"github.com/gravewalk/server/internal/cache"
	"github.com/gravewalk/server/internal/clients/events"
	"github.com/gravewalk/server/internal/clients/google"
	"github.com/gravewalk/server/internal/clients/graves"
	"github.com/gravewalk/server/internal/config"
	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/narration"
	"github.com/gravewalk/server/internal/lib/navigation"
	"github.com/gravewalk/server/internal/lib/routing"
	"github.com/gravewalk/server/internal/metrics"
	"github.com/gravewalk/server/internal/services"
)

func main() {
	configPath := flag.String("config", os.Getenv("GRAVEWALK_CONFIG"), "Path to the YAML configuration file")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	// Malformed geometry is fatal
	geography, err := cemetery.NewGeography(appConfig.Cemetery)
	if err != nil {
		log.Fatalf("Invalid cemetery geometry: %v", err)
	}

	ctx, cancel := context.WithCancel(logging.With(context.Background(), logging.NewProdLogger()))
	defer cancel()

	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Server.CacheCleanupInterval)
	metrics.RegisterCache(cacheInstance)

	googleClient := google.NewClientWithHTTPDoer(
		appConfig.Routing.GoogleRoutes.APIKey,
		appConfig.Routing.GoogleRoutes.BaseURL,
		&http.Client{Timeout: 15 * time.Second},
	)
	router := routing.NewCachedRouter(googleClient, cache.NewRouteCacheAdapter(cacheInstance), appConfig.Routing.CacheTTL)

	// Narration is optional; sessions show the fixed instructions without it
	var narrator navigation.Narrator
	if key := appConfig.Narration.OpenAI.APIKey; key != "" {
		model := appConfig.Narration.OpenAI.Model
		cached := narration.NewCachedNarrator(
			narration.NewOpenAINarrator(key, model),
			cache.NewNarrationCacheAdapter(cacheInstance),
			appConfig.Narration.CacheTTL,
		)
		narrator = cached
		log.Printf("OpenAI narration enabled with content-based caching (model: %s)", model)

		checkCtx, cancelCheck := context.WithTimeout(ctx, 10*time.Second)
		if err := cached.HealthCheck(checkCtx); err != nil {
			logging.Warnw(ctx, "Narration health check failed, sessions fall back to fixed instructions", "error", err)
		}
		cancelCheck()
	}

	directory, closeDirectory := openDirectory(ctx, appConfig)
	defer closeDirectory()

	var notifier navigation.ArrivalNotifier
	if url := appConfig.Events.NATSURL; url != "" {
		publisher, err := events.NewArrivalPublisher(url, appConfig.Events.SubjectPrefix)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer publisher.Close()
		notifier = publisher
		log.Printf("Publishing arrivals to %s.*", appConfig.Events.SubjectPrefix)
	}

	hub := services.NewHub(ctx)
	go hub.Run(ctx)

	navigationService, err := services.NewNavigationService(ctx, services.Dependencies{
		Geography:   geography,
		Directory:   directory,
		Config:      appConfig,
		Router:      router,
		PathMatcher: routing.NewPathMatcher(appConfig.Navigation.OnPathMeters, appConfig.Navigation.NearPathMeters),
		Notifier:    notifier,
		Narrator:    narrator,
		Recorder:    metrics.NewSessionRecorder(),
		Hub:         hub,
	})
	if err != nil {
		log.Fatalf("Failed to create navigation service: %v", err)
	}
	defer navigationService.Close()

	reaper := services.NewIdleReaper(navigationService, appConfig.Server.ReaperInterval)
	reaper.Start(ctx)
	defer reaper.Stop()

	log.Printf("Gravewalk navigation server starting")
	log.Printf("Cemetery: %s (%d boundary vertices, %d paths)",
		geography.Name(), len(geography.Boundary()), len(geography.Paths()))

	api := services.NewAPI(navigationService, hub, appConfig.Server.AllowedOrigins)

	// Listen address and other server settings come from prefab.yaml / PF__ env vars
	server := prefab.New(
		prefab.WithContext(ctx),
		prefab.WithHTTPHandlerFunc("/api/", api.Router().ServeHTTP),
		prefab.WithHTTPHandlerFunc("/metrics", metrics.Handler().ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// openDirectory picks Postgres when a database is configured, else the static records
func openDirectory(ctx context.Context, appConfig *config.Config) (graves.Directory, func()) {
	if dsn := appConfig.Graves.DatabaseURL; dsn != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		directory, err := graves.NewPostgresDirectory(connectCtx, dsn, appConfig.Graves.MaxConns)
		if err != nil {
			log.Fatalf("Failed to connect to grave database: %v", err)
		}
		log.Printf("Grave records: postgres")
		return directory, directory.Close
	}

	directory, err := graves.NewStaticDirectory(appConfig.Graves.Static)
	if err != nil {
		log.Fatalf("Invalid static grave records: %v", err)
	}
	log.Printf("Grave records: %d static", directory.Len())
	return directory, func() {}
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>gravewalk</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">gravewalk</span>

On-foot navigation to a grave: live progress, arrival detection and
outdoor walking routes until you reach the cemetery gate.

<span class="header">API Endpoints:</span>

Cemetery:
  <a href="/api/v1/cemetery">GET /api/v1/cemetery</a>                          - Boundary, paths and entrance
  <a href="/api/v1/cemetery.kml">GET /api/v1/cemetery.kml</a>                      - Geometry as KML

Sessions:
  POST   /api/v1/sessions                         - Start navigating to a grave
  GET    /api/v1/sessions/{id}                    - Current snapshot
  POST   /api/v1/sessions/{id}/fixes              - Report a position or a permission denial
  POST   /api/v1/sessions/{id}/reset              - Keep walking after arrival
  POST   /api/v1/sessions/{id}/acknowledge        - Confirm arrival
  DELETE /api/v1/sessions/{id}                    - Stop navigating
  GET    /api/v1/sessions/{id}/stream             - WebSocket of snapshots
  GET    /api/v1/sessions/{id}/handoff?provider=  - Directions in Apple/Google Maps
  GET    /api/v1/sessions/{id}/map.kml            - Geometry, target and route as KML

<span class="header">Metrics:</span>
  <a href="/metrics">GET /metrics</a>

<span class="header">Example Usage:</span>
  curl -X POST -d '{"grave_id":"g-114"}' http://localhost:8000/api/v1/sessions
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
