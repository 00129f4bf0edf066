package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/bots/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bots/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/bots/{id}", "GET", "404"))
	assert.Equal(t, float64(2), got)
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.NodeVisited("message")
	m.NodeVisited("message")
	m.WalkFinished("step_limit_exceeded")
	m.ValidationIssue("UnreachableNode", "warning")
	m.FunctionCall("echo.v1", errors.New("x"), 3*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.nodeVisits.WithLabelValues("message")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.walkOutcomes.WithLabelValues("step_limit_exceeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.validations.WithLabelValues("UnreachableNode", "warning")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "intellibotic_code_function_duration_seconds"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.NodeVisited("message")
	m.WalkFinished("completed")
	m.ValidationIssue("x", "fatal")
	m.FunctionCall("f", nil, time.Millisecond)
}
