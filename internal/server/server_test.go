package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/omerta/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		SweepInterval:    time.Second,
		CASMaxRetries:    config.DefaultCASMaxRetries,
		ProbabilityFloor: config.DefaultProbabilityFloor,
		ProbabilityCeil:  config.DefaultProbabilityCeil,
		CascadeMaxDepth:  config.DefaultCascadeMaxDepth,
		CascadeMaxFanout: config.DefaultCascadeMaxFanout,
		ContentTimeout:   config.DefaultContentTimeout,
		RateLimitRPM:     config.DefaultRateLimit,
	}
}

// newTestServer creates a server backed by in-memory stores
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/actions",
		"GET:/v1/actions/:id",
		"GET:/v1/actors/:actorId/actions",
		"GET:/v1/risk/:ownerType/:ownerId",
		"POST:/v1/risk/:ownerType/:ownerId/reduce",
		"POST:/v1/timers",
		"POST:/v1/timers/:id/advance",
		"DELETE:/v1/timers/:id",
		"GET:/v1/cascades/:originId",
		"GET:/v1/actors/:actorId/balance",
		"GET:/v1/actors/:actorId/ledger",
		"GET:/v1/territories",
		"POST:/v1/auctions",
		"POST:/v1/subscriptions",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Action pipeline test
// ---------------------------------------------------------------------------

func TestPerformActionEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := `{"actorId":"player-1","actorType":"player","actionType":"heist","baseSuccessRate":50,"payout":1000}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	attempt, ok := resp["attempt"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected attempt in response, got %v", resp)
	}
	if attempt["outcome"] != "success" && attempt["outcome"] != "failure" {
		t.Errorf("Expected a resolved outcome, got %v", attempt["outcome"])
	}
	if resp["profile"] == nil {
		t.Error("Expected risk profile in response")
	}

	// The attempt is retrievable afterwards
	id, _ := attempt["id"].(string)
	if id == "" {
		t.Fatal("Expected attempt id")
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/actions/"+id, nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 fetching attempt, got %d", w.Code)
	}
}

func TestPerformActionValidation(t *testing.T) {
	s := newTestServer(t)

	body := `{"actorId":"player-1","actionType":"heist","baseSuccessRate":150}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range rate, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
