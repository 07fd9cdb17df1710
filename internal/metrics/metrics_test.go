package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestActionsResolvedCounter(t *testing.T) {
	c := ActionsResolvedTotal.WithLabelValues("heist", "success")
	before := counterValue(t, c)

	ActionsResolvedTotal.WithLabelValues("heist", "success").Inc()

	after := counterValue(t, c)
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %f -> %f", before, after)
	}
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		100: "1xx",
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
	}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestMiddlewareRecordsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/v1/actions/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	c := HTTPRequestsTotal.WithLabelValues("GET", "/v1/actions/:id", "2xx")
	before := counterValue(t, c)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/actions/act_123", nil)
	router.ServeHTTP(w, req)

	after := counterValue(t, c)
	if after != before+1 {
		t.Fatalf("expected request counter to increase, got %f -> %f", before, after)
	}
}

func TestMetricsHandlerServes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
