package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravewalk/server/internal/cache"
	"github.com/gravewalk/server/internal/lib/navigation"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravewalk",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gravewalk",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Navigation metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gravewalk",
		Subsystem: "navigation",
		Name:      "active_sessions",
		Help:      "Navigation sessions currently registered",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gravewalk",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of snapshot WebSocket connections",
	})

	FixesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravewalk",
		Subsystem: "navigation",
		Name:      "fixes_processed_total",
		Help:      "Position fixes applied to sessions, by resulting phase",
	}, []string{"phase"})

	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravewalk",
		Subsystem: "navigation",
		Name:      "phase_transitions_total",
		Help:      "Session phase changes",
	}, []string{"from", "to"})

	Arrivals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravewalk",
		Subsystem: "navigation",
		Name:      "arrivals_total",
		Help:      "Sessions that reached their grave",
	})

	TimeToArrival = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gravewalk",
		Subsystem: "navigation",
		Name:      "time_to_arrival_seconds",
		Help:      "Time from session start to arrival",
		Buckets:   []float64{30, 60, 120, 300, 600, 900, 1800, 3600},
	})

	RouteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravewalk",
		Subsystem: "routing",
		Name:      "requests_total",
		Help:      "Walking route requests by result",
	}, []string{"result"})

	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gravewalk",
		Subsystem: "navigation",
		Name:      "sessions_reaped_total",
		Help:      "Idle sessions stopped by the reaper",
	})
)

// SessionRecorder reports session events to Prometheus. It satisfies navigation.Recorder.
type SessionRecorder struct{}

// NewSessionRecorder creates a recorder backed by the package collectors
func NewSessionRecorder() *SessionRecorder {
	return &SessionRecorder{}
}

func (SessionRecorder) FixProcessed(phase navigation.Phase) {
	FixesProcessed.WithLabelValues(phase.String()).Inc()
}

func (SessionRecorder) PhaseChanged(from, to navigation.Phase) {
	PhaseTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (SessionRecorder) Arrived(elapsed time.Duration) {
	Arrivals.Inc()
	TimeToArrival.Observe(elapsed.Seconds())
}

func (SessionRecorder) RouteRequested(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RouteRequests.WithLabelValues(result).Inc()
}

// CacheStatsSource reports cache occupancy
type CacheStatsSource interface {
	Stats() cache.CacheStats
}

var cacheEntriesDesc = prometheus.NewDesc(
	"gravewalk_cache_entries",
	"Entries held by the route and narration cache",
	[]string{"state"}, nil,
)

type cacheCollector struct {
	source CacheStatsSource
}

// NewCacheCollector exports the cache's fresh and stale entry counts at scrape time
func NewCacheCollector(source CacheStatsSource) prometheus.Collector {
	return &cacheCollector{source: source}
}

// RegisterCache adds the cache collector to the default registry served by Handler
func RegisterCache(source CacheStatsSource) {
	prometheus.MustRegister(NewCacheCollector(source))
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheEntriesDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(stats.FreshEntries), "fresh")
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(stats.StaleEntries), "stale")
}

// Middleware records request metrics, labelled by the mux route template to keep cardinality low
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack hands the connection to the WebSocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
