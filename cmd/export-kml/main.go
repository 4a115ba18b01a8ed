package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gravewalk/server/internal/clients/google"
	"github.com/gravewalk/server/internal/clients/graves"
	"github.com/gravewalk/server/internal/config"
	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
)

func main() {
	configPath := flag.String("config", os.Getenv("GRAVEWALK_CONFIG"), "Path to the YAML configuration file")
	output := flag.String("o", "", "Output file (default: stdout)")
	graveID := flag.String("grave", "", "Mark this grave from the static records")
	fromLat := flag.Float64("from-lat", 0, "Include the walking route from this latitude (needs -grave and an API key)")
	fromLng := flag.Float64("from-lng", 0, "Include the walking route from this longitude")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	geography, err := cemetery.NewGeography(appConfig.Cemetery)
	if err != nil {
		log.Fatalf("Invalid cemetery geometry: %v", err)
	}

	var target *cemetery.GraveTarget
	var route *geo.Polyline

	if *graveID != "" {
		directory, err := graves.NewStaticDirectory(appConfig.Graves.Static)
		if err != nil {
			log.Fatalf("Invalid static grave records: %v", err)
		}
		record, err := directory.Lookup(context.Background(), *graveID)
		if err != nil {
			log.Fatalf("%v", err)
		}
		t, err := geography.NewGraveTarget(record)
		if err != nil {
			log.Fatalf("Cannot place grave %s: %v", *graveID, err)
		}
		target = &t

		if *fromLat != 0 || *fromLng != 0 {
			origin, err := geo.NewPoint(*fromLat, *fromLng)
			if err != nil {
				log.Fatalf("Invalid origin: %v", err)
			}
			client := google.NewClient(appConfig.Routing.GoogleRoutes.APIKey)
			r, err := client.WalkingRoute(context.Background(), origin, t.Coordinate)
			if err != nil {
				log.Fatalf("Failed to fetch walking route: %v", err)
			}
			route = &r.Polyline
			log.Printf("Route: %.0fm, %.0f min", r.DistanceMeters, r.DurationSeconds/60)
		}
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *output, err)
		}
		defer f.Close()
		out = f
	}

	if err := geography.WriteKML(out, target, route); err != nil {
		log.Fatalf("Failed to write KML: %v", err)
	}
	if *output != "" {
		fmt.Fprintf(os.Stderr, "Wrote %s\n", *output)
	}
}
