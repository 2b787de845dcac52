package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/data"
	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/handlers"
	"github.com/nextscript/emr-tools/health"
	"github.com/nextscript/emr-tools/validation"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Address:        "127.0.0.1",
		Port:           "8000",
		OutputDir:      t.TempDir(),
		OutputFile:     "compiled_drug_data.json",
		MaxRequestBody: 1024,
		MaxHeaderSize:  4096,
		CompileTimes:   "03:00",
	}
}

func newTestServer(t *testing.T, entries []entities.CompiledEntry) *Server {
	t.Helper()
	cfg := testConfig(t)
	store := data.NewDataContainer()
	store.SetServerStartTime(time.Now())
	if entries != nil {
		store.UpdateData(entries)
	}
	handler := handlers.NewHTTPHandler(store, validation.NewDataValidator(), health.NewHealthChecker(store, cfg.CompileTimes), filepath.Join(cfg.OutputDir, cfg.OutputFile))
	return NewServer(cfg, handler)
}

func sampleEntries() []entities.CompiledEntry {
	return []entities.CompiledEntry{
		{DrugCode: "02242903", BrandName: "TESTOCIN", Ingredients: []string{"testosterone 50mg"}, NormalizedForm: "tablet", IsRestricted: true, SearchText: "testocin testosterone 50mg tablet"},
		{DrugCode: "00326925", BrandName: "TYLENOL", Ingredients: []string{"acetaminophen 500mg"}, NormalizedForm: "tablet", SearchText: "tylenol acetaminophen 500mg tablet"},
	}
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, sampleEntries())

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/drugs", http.StatusOK, `"total_items":2`},
		{"/drugs/02242903", http.StatusOK, `"brand_name":"TESTOCIN"`},
		{"/drugs/99999999", http.StatusNotFound, "Drug not found"},
		{"/drugs/search?q=tylenol", http.StatusOK, `"count":1`},
		{"/drugs/export.xlsx", http.StatusOK, ""},
		{"/compiled_drug_data.json", http.StatusNotFound, ""},
		{"/health", http.StatusOK, `"status":"healthy"`},
		{"/metrics", http.StatusOK, "http_request_total"},
		{"/nope", http.StatusNotFound, "Unknown endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.RemoteAddr = "10.0.0.1:5000"
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.body != "" && !strings.Contains(rr.Body.String(), tt.body) {
				t.Errorf("Expected body containing %q, got %s", tt.body, rr.Body.String())
			}
		})
	}
}

func TestRateLimitHeaders(t *testing.T) {
	s := newTestServer(t, sampleEntries())
	req := httptest.NewRequest(http.MethodGet, "/drugs", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("Expected rate limit headers")
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	s := newTestServer(t, sampleEntries())

	req := httptest.NewRequest(http.MethodGet, "/drugs", strings.NewReader(strings.Repeat("x", 2048)))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/drugs", nil)
	req.Header.Set("X-Large", strings.Repeat("y", 5000))
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestHeaderFieldsTooLarge {
		t.Errorf("Expected 431, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, nil)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/drugs/export.xlsx", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		return rr.Code
	}

	// Export costs 200 of 1000 tokens
	for i := 0; i < 5; i++ {
		if code := send("10.0.0.2:4000"); code == http.StatusTooManyRequests {
			t.Fatalf("Request %d was rate limited too early", i+1)
		}
	}
	if code := send("10.0.0.2:4001"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", code)
	}
	if code := send("10.0.0.3:4000"); code == http.StatusTooManyRequests {
		t.Error("Expected another client to have its own bucket")
	}
}

func TestGetTokenCost(t *testing.T) {
	tests := []struct {
		path string
		cost int64
	}{
		{"/metrics", 0},
		{"/health", 5},
		{"/drugs", 20},
		{"/drugs/search", 50},
		{"/drugs/export.xlsx", 200},
		{"/drugs/02242903", 10},
		{"/compiled_drug_data.json.gz", 100},
		{"/other", 20},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := getTokenCost(req); got != tt.cost {
			t.Errorf("For %s expected cost %d, got %d", tt.path, tt.cost, got)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	rl.getBucket("10.0.0.4")
	busy := rl.getBucket("10.0.0.5")
	busy.TakeAvailable(500)

	rl.cleanup()

	if _, ok := rl.clients["10.0.0.4"]; ok {
		t.Error("Expected idle client to be removed")
	}
	if _, ok := rl.clients["10.0.0.5"]; !ok {
		t.Error("Expected busy client to be kept")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		addr, expected string
	}{
		{"10.0.0.1:5000", "10.0.0.1"},
		{"10.0.0.1", "10.0.0.1"},
		{"[::1]:8080", "::1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.addr
		if got := clientIP(req); got != tt.expected {
			t.Errorf("For %s expected %s, got %s", tt.addr, tt.expected, got)
		}
	}
}
