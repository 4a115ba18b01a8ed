package maplink

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gravewalk/server/internal/lib/geo"
)

// ErrUnknownProvider is returned for map applications we cannot link to
var ErrUnknownProvider = errors.New("unknown map provider")

// Provider is an external map application
type Provider string

const (
	Apple  Provider = "apple"
	Google Provider = "google"
	GeoURI Provider = "geo"
)

// ParseProvider accepts a provider name case-insensitively; empty means Apple
func ParseProvider(name string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case "", Apple:
		return Apple, nil
	case Google:
		return Google, nil
	case GeoURI:
		return GeoURI, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// DirectionsURL builds a deep link that opens walking directions to target in
// the provider's map application. label is shown as the destination name.
func DirectionsURL(provider Provider, target geo.Point, label string) (string, error) {
	if !target.IsValid() {
		return "", fmt.Errorf("%w: destination out of range", geo.ErrInvalidGeometry)
	}
	coords := formatCoord(target.Latitude) + "," + formatCoord(target.Longitude)

	switch provider {
	case Apple:
		q := url.Values{}
		q.Set("daddr", coords)
		q.Set("dirflg", "w")
		if label != "" {
			q.Set("q", label)
		}
		return "https://maps.apple.com/?" + q.Encode(), nil

	case Google:
		q := url.Values{}
		q.Set("api", "1")
		q.Set("destination", coords)
		q.Set("travelmode", "walking")
		return "https://www.google.com/maps/dir/?" + q.Encode(), nil

	case GeoURI:
		// RFC 5870 with the Android q= extension for a labelled pin
		query := coords
		if label != "" {
			query += "(" + url.QueryEscape(label) + ")"
		}
		return "geo:" + coords + "?q=" + query, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
