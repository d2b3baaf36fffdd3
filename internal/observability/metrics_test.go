package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/danmuck/serialplot/internal/testutil/testlog"
)

func TestMetricsRecordProtocolEvents(t *testing.T) {
	log := testlog.Start(t)
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "plotter-a")
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.ConnectionOpened("server")
	m.ConnectionOpened("server")
	m.ConnectionClosed("server")
	m.MessageSent("server", "data")
	m.MessageSent("server", "data")
	m.MessageReceived("server", "eol_change")
	m.DecodeFailed("server", "malformed")
	m.EOLNegotiated("server", "adopted", "crlf")

	if got := metricValue(t, m.activeConns.WithLabelValues("server")); got != 1 {
		t.Fatalf("active connections = %v, want 1", got)
	}
	if got := metricValue(t, m.connsTotal.WithLabelValues("server")); got != 2 {
		t.Fatalf("connections total = %v, want 2", got)
	}
	if got := metricValue(t, m.messagesSent.WithLabelValues("server", "data")); got != 2 {
		t.Fatalf("messages sent = %v, want 2", got)
	}
	if got := metricValue(t, m.eolSteps.WithLabelValues("server", "adopted", "crlf")); got != 1 {
		t.Fatalf("eol steps = %v, want 1", got)
	}
	log.Info().Msg("protocol counters recorded")
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	testlog.Start(t)
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg, "a"); err != nil {
		t.Fatalf("first NewMetrics: %v", err)
	}
	if _, err := NewMetrics(reg, "a"); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, err := NewMetrics(nil, "a"); err != nil {
		t.Fatalf("unregistered NewMetrics: %v", err)
	}
}

func TestNopRecorderIsSafe(t *testing.T) {
	testlog.Start(t)
	rec := OrNop(nil)
	rec.ConnectionOpened("client")
	rec.HTTPRequest("GET", "/health", 200, time.Millisecond)
	if _, ok := rec.(Nop); !ok {
		t.Fatalf("OrNop(nil) = %T, want Nop", rec)
	}
}

func TestRequestMiddlewareRecordsRoutePath(t *testing.T) {
	log := testlog.Start(t)
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "plotter-a")
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	engine := gin.New()
	engine.Use(RequestLogger(log), RequestMetricsMiddleware(m))
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/health", "/health", "/missing"} {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := metricValue(t, m.httpRequests.WithLabelValues("GET", "/health", "200")); got != 2 {
		t.Fatalf("health requests = %v, want 2", got)
	}
	if got := metricValue(t, m.httpRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched requests = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "serialplot_http_request_duration_seconds") {
			found = true
		}
	}
	if !found {
		t.Fatalf("duration histogram not gathered")
	}
}

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("metric write: %v", err)
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	default:
		t.Fatalf("unsupported metric %v", &pb)
		return 0
	}
}
