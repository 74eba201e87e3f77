package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ coordinator.Observer = (*Metrics)(nil)

func TestCoordinatorMetrics(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordRegistration("resolved")
	m.RecordRegistration("resolved")
	m.RecordRegistration("capacity")
	m.RecordAdmission("created")
	m.RecordRequest("timeout", 50*time.Millisecond)
	m.SetRegistrationsActive(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteRequests.WithLabelValues("timeout")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegistrationsActive))
}

func TestPoolGauges(t *testing.T) {
	stats := pool.Stats{Size: 2, MaxSize: 5, Ready: 1, Idle: 1}
	m := NewMetrics(func() pool.Stats { return stats })

	n, err := testutil.GatherAndCount(m.Registry(), "webviewrpc_contexts", "webviewrpc_contexts_ready")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expected := `
# HELP webviewrpc_contexts Number of live contexts
# TYPE webviewrpc_contexts gauge
webviewrpc_contexts 2
# HELP webviewrpc_contexts_idle Number of contexts hosting nothing
# TYPE webviewrpc_contexts_idle gauge
webviewrpc_contexts_idle 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"webviewrpc_contexts", "webviewrpc_contexts_idle"))

	stats.Size = 4
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(strings.Replace(expected, "webviewrpc_contexts 2", "webviewrpc_contexts 4", 1)),
		"webviewrpc_contexts", "webviewrpc_contexts_idle"))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(nil)

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/v1/registrations/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/registrations/"+id, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/v1/registrations/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "webviewrpc_http_requests_total")
	assert.Contains(t, w.Body.String(), "webviewrpc_uptime_seconds")
}
