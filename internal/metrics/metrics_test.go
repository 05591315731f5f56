package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	a.ObserveGeneration("gemini-2.5-flash", "ok", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.GenerationRequests.WithLabelValues("gemini-2.5-flash", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.GenerationRequests.WithLabelValues("gemini-2.5-flash", "ok")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.ObserveGeneration("m", "ok", time.Second)
	c.SetBreakerState("gemini", 2)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	t.Parallel()

	c := New()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/export/{kind}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Method(http.MethodGet, "/metrics", c.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export/notes.md", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/export/{kind}", "418")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "curriculum_designer_http_requests_total")
}
