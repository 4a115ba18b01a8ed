package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/gravewalk/server/internal/clients/google"
	"github.com/gravewalk/server/internal/clients/graves"
	"github.com/gravewalk/server/internal/config"
	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/navigation"
	"github.com/gravewalk/server/internal/lib/routing"
	"github.com/gravewalk/server/internal/lib/tracking"
)

// Replays a straight walk towards a grave through a real navigation session
// and prints every snapshot.
func main() {
	configPath := flag.String("config", os.Getenv("GRAVEWALK_CONFIG"), "Path to the YAML configuration file")
	graveID := flag.String("grave", "", "Grave id from the static records (default: first record)")
	startDistance := flag.Float64("start-distance", 900, "Start this many meters due south of the grave")
	fromLat := flag.Float64("from-lat", 0, "Start latitude (overrides -start-distance)")
	fromLng := flag.Float64("from-lng", 0, "Start longitude (overrides -start-distance)")
	steps := flag.Int("steps", 30, "Number of fixes between start and grave")
	interval := flag.Duration("interval", 200*time.Millisecond, "Delay between fixes")
	useRouting := flag.Bool("route", false, "Ask Google Routes for the outdoor route (needs an API key)")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	geography, err := cemetery.NewGeography(appConfig.Cemetery)
	if err != nil {
		log.Fatalf("Invalid cemetery geometry: %v", err)
	}

	record, err := pickGrave(appConfig.Graves.Static, *graveID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	target, err := geography.NewGraveTarget(record)
	if err != nil {
		log.Fatalf("Cannot navigate to grave %s: %v", record.ID, err)
	}
	if target.UsedFallback {
		fmt.Println("Grave has no coordinate; walking to the cemetery fallback point")
	}

	start := geo.Point{
		Latitude:  target.Coordinate.Latitude - *startDistance/111194.93,
		Longitude: target.Coordinate.Longitude,
	}
	if *fromLat != 0 || *fromLng != 0 {
		start, err = geo.NewPoint(*fromLat, *fromLng)
		if err != nil {
			log.Fatalf("Invalid start: %v", err)
		}
	}

	provider := &tracking.ScriptedProvider{
		Fixes:    walk(start, target.Coordinate, *steps),
		Interval: *interval,
	}

	logCtx := logging.With(context.Background(), logging.NewDevLogger())
	opts := navigation.Options{
		BaseContext: logCtx,
		Tracker:     tracking.NewTracker(provider, appConfig.Tracking),
		PathMatcher: routing.NewPathMatcher(appConfig.Navigation.OnPathMeters, appConfig.Navigation.NearPathMeters),
		Thresholds:  appConfig.Navigation.Thresholds(),
		OnChange:    printSnapshot,
	}
	if *useRouting {
		if appConfig.Routing.GoogleRoutes.APIKey == "" {
			log.Fatalf("-route needs routing.google_routes.api_key")
		}
		opts.Router = google.NewClient(appConfig.Routing.GoogleRoutes.APIKey)
	}

	session, err := navigation.NewSession(geography, target, opts)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	defer session.Stop()

	fmt.Printf("Walking %.0fm to %s (%s) in %s\n\n",
		geo.HaversineDistance(start, target.Coordinate), target.Name, target.Label(), geography.Name())

	ctx, cancel := context.WithTimeout(logCtx, time.Duration(*steps+5)*(*interval)+30*time.Second)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	for session.Phase() != navigation.PhaseArrived {
		select {
		case <-ctx.Done():
			log.Fatalf("Walk ended before arrival")
		case <-time.After(50 * time.Millisecond):
		}
	}

	snap := session.Snapshot()
	fmt.Printf("\nArrived after %d fixes\n", snap.FixesProcessed)
}

func pickGrave(records []cemetery.GraveRecord, id string) (cemetery.GraveRecord, error) {
	if len(records) == 0 {
		return cemetery.GraveRecord{}, fmt.Errorf("no static grave records configured")
	}
	if id == "" {
		return records[0], nil
	}
	directory, err := graves.NewStaticDirectory(records)
	if err != nil {
		return cemetery.GraveRecord{}, err
	}
	return directory.Lookup(context.Background(), id)
}

// walk returns steps+1 evenly spaced fixes from start to end, one second apart
func walk(start, end geo.Point, steps int) []tracking.Fix {
	if steps < 1 {
		steps = 1
	}
	t0 := time.Now()
	fixes := make([]tracking.Fix, 0, steps+1)
	for i := 0; i <= steps; i++ {
		fixes = append(fixes, tracking.Fix{
			Point:          geo.Interpolate(start, end, float64(i)/float64(steps)),
			AccuracyMeters: 5,
			Timestamp:      t0.Add(time.Duration(i) * time.Second),
		})
	}
	return fixes
}

func printSnapshot(s navigation.Snapshot) {
	if s.CurrentPosition == nil {
		fmt.Printf("%-17s %s\n", s.Phase, s.InstructionText)
		return
	}

	line := fmt.Sprintf("%-17s %6.0fm %-9s %5.1f%%  %s",
		s.Phase, s.DistanceToTargetMeters, s.Direction, s.ProgressPercent, s.InstructionText)
	if s.EstimatedArrivalMinutes != nil {
		line += fmt.Sprintf(" (eta %d min)", *s.EstimatedArrivalMinutes)
	}
	if s.CurrentPath != nil {
		line += fmt.Sprintf(" [%s, %s]", s.CurrentPath.PathName, s.CurrentPath.Classification)
	}
	if s.ExternalRoute != nil {
		line += fmt.Sprintf(" route %.0fm", s.ExternalRoute.DistanceMeters)
	}
	fmt.Println(line)
}
