package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/routing"
)

const (
	defaultBaseURL = "https://routes.googleapis.com"
	fieldMask      = "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline"
)

// ErrRateLimited is returned when the Routes API answers 429
var ErrRateLimited = errors.New("rate limit exceeded")

// HTTPDoer is the subset of *http.Client used by Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides walking routes from Google Routes API v2.
// It implements routing.Router.
type Client struct {
	apiKey      string
	httpClient  HTTPDoer
	baseURL     string
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a new Google Routes API client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, defaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport, mainly for tests
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:      apiKey,
		httpClient:  doer,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
	}
}

// WalkingRoute computes an on-foot route from origin to destination
func (c *Client) WalkingRoute(ctx context.Context, origin, destination geo.Point) (*routing.Route, error) {
	if c.apiKey == "" {
		return nil, errors.New("google routes API key not configured")
	}

	requestBody := computeRoutesRequest{
		Origin:      waypointFor(origin),
		Destination: waypointFor(destination),
		TravelMode:  "WALK",
		Units:       "METRIC",
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/directions/v2:computeRoutes", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		// Field mask is required or the API rejects the request
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
		req.Header.Set("X-Goog-FieldMask", fieldMask)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response routesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Routes) == 0 {
		return nil, fmt.Errorf("no routes found in response")
	}

	return processRoute(response.Routes[0])
}

// processRoute converts the first API route into a routing.Route
func processRoute(r apiRoute) (*routing.Route, error) {
	durationSeconds, err := parseDuration(r.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}

	points, err := geo.DecodePolyline(r.Polyline.EncodedPolyline)
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	line := geo.Polyline{
		EncodedPolyline: r.Polyline.EncodedPolyline,
		Points:          points,
	}

	// distanceMeters is omitted from the response for zero-length routes and
	// occasionally for very short walks
	distance := float64(r.DistanceMeters)
	if distance == 0 {
		distance = geo.PolylineLength(line)
	}

	return &routing.Route{
		Polyline:        line,
		DistanceMeters:  distance,
		DurationSeconds: durationSeconds,
	}, nil
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Body)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// doWithRetry retries network errors and 5xx responses with exponential backoff.
// Rate limiting is not retried; callers refresh routes on their own schedule.
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return nil, lastErr
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.Code {
		case 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (float64, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

func waypointFor(p geo.Point) waypoint {
	return waypoint{Location: location{LatLng: latLng{Latitude: p.Latitude, Longitude: p.Longitude}}}
}

type computeRoutesRequest struct {
	Origin      waypoint `json:"origin"`
	Destination waypoint `json:"destination"`
	TravelMode  string   `json:"travelMode"`
	Units       string   `json:"units"`
}

type waypoint struct {
	Location location `json:"location"`
}

type location struct {
	LatLng latLng `json:"latLng"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type routesResponse struct {
	Routes []apiRoute `json:"routes"`
}

type apiRoute struct {
	Duration       string      `json:"duration"`
	DistanceMeters int32       `json:"distanceMeters"`
	Polyline       apiPolyline `json:"polyline"`
}

type apiPolyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}
