package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravewalk/server/internal/cache"
	"github.com/gravewalk/server/internal/lib/navigation"
)

func TestSessionRecorder(t *testing.T) {
	r := NewSessionRecorder()

	before := testutil.ToFloat64(FixesProcessed.WithLabelValues("near_target"))
	r.FixProcessed(navigation.PhaseNearTarget)
	assert.Equal(t, before+1, testutil.ToFloat64(FixesProcessed.WithLabelValues("near_target")))

	before = testutil.ToFloat64(PhaseTransitions.WithLabelValues("locating", "outside_boundary"))
	r.PhaseChanged(navigation.PhaseLocating, navigation.PhaseOutsideBoundary)
	assert.Equal(t, before+1, testutil.ToFloat64(PhaseTransitions.WithLabelValues("locating", "outside_boundary")))

	before = testutil.ToFloat64(Arrivals)
	r.Arrived(7 * time.Minute)
	assert.Equal(t, before+1, testutil.ToFloat64(Arrivals))

	okBefore := testutil.ToFloat64(RouteRequests.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(RouteRequests.WithLabelValues("error"))
	r.RouteRequested(nil)
	r.RouteRequested(errors.New("routing unavailable"))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(RouteRequests.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(RouteRequests.WithLabelValues("error")))
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware)
	router.HandleFunc("/api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/sessions/{id}", "404"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/sessions/{id}", "404")))
}

func TestHandler(t *testing.T) {
	Arrivals.Add(0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "gravewalk_navigation_arrivals_total"))
}

func TestCacheCollector(t *testing.T) {
	c := cache.NewCache()
	require.NoError(t, c.Set("route:a", 1, time.Hour, "test"))
	require.NoError(t, c.Set("route:b", 2, time.Hour, "test"))
	require.NoError(t, c.Set("narration:c", "x", -time.Second, "test"))

	expected := `
# HELP gravewalk_cache_entries Entries held by the route and narration cache
# TYPE gravewalk_cache_entries gauge
gravewalk_cache_entries{state="fresh"} 2
gravewalk_cache_entries{state="stale"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(NewCacheCollector(c), strings.NewReader(expected)))
}
