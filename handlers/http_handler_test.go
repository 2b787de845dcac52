package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nextscript/emr-tools/data"
	"github.com/nextscript/emr-tools/drugdata"
	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/health"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/validation"
)

func testEntries() []entities.CompiledEntry {
	return []entities.CompiledEntry{
		{DrugCode: "00000123", BrandName: "TESTOCIN", Ingredients: []string{"testosterone 50mg"}, DosageForm: "Tablet", NormalizedForm: "tablet", IsRestricted: true, RestrictionReason: "Schedule (Schedule G (CDSA IV))", SearchText: "testocin testosterone 50mg tablet"},
		{DrugCode: "00000456", BrandName: "ACETAMINOPHÈNE", Ingredients: []string{"acetaminophen 500mg"}, DosageForm: "Tablet", NormalizedForm: "tablet", SearchText: "acetaminophène acetaminophen 500mg tablet"},
		{DrugCode: "00000789", BrandName: "CODEINE SYRUP", Ingredients: []string{"codeine 5mg"}, DosageForm: "Syrup", NormalizedForm: "syrup", IsRestricted: true, RestrictionReason: "Controlled Ingredient (codeine)", SearchText: "codeine syrup codeine 5mg syrup"},
	}
}

func newTestHandler(t *testing.T, entries []entities.CompiledEntry) (*HTTPHandlerImpl, string) {
	t.Helper()
	store := data.NewDataContainer()
	store.SetServerStartTime(time.Now().Add(-90 * time.Minute))
	if entries != nil {
		store.UpdateData(entries)
	}
	outputPath := filepath.Join(t.TempDir(), "compiled_drug_data.json")
	h := NewHTTPHandler(store, validation.NewDataValidator(), health.NewHealthChecker(store, "03:00"), outputPath)
	return h.(*HTTPHandlerImpl), outputPath
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestServePagedDrugs(t *testing.T) {
	h, _ := newTestHandler(t, testEntries())

	tests := []struct {
		name     string
		query    string
		status   int
		dataSize int
		maxPage  int
	}{
		{"default page", "", http.StatusOK, 3, 1},
		{"small pages", "?page=2&page_size=2", http.StatusOK, 1, 2},
		{"page past the end", "?page=3&page_size=2", http.StatusNotFound, 0, 0},
		{"invalid page", "?page=abc", http.StatusBadRequest, 0, 0},
		{"zero page", "?page=0", http.StatusBadRequest, 0, 0},
		{"page size too big", "?page_size=1000", http.StatusBadRequest, 0, 0},
		{"page offset wraps negative", "?page=2305843009213693953&page_size=4", http.StatusNotFound, 0, 0},
		{"page offset wraps to zero", "?page=4611686018427387905&page_size=4", http.StatusNotFound, 0, 0},
		{"max int page", "?page=9223372036854775807", http.StatusNotFound, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServePagedDrugs(rr, httptest.NewRequest(http.MethodGet, "/v1/drugs"+tt.query, nil))

			if rr.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, rr.Code)
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp PagedResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if len(resp.Data) != tt.dataSize {
				t.Errorf("Expected %d entries, got %d", tt.dataSize, len(resp.Data))
			}
			if resp.MaxPage != tt.maxPage {
				t.Errorf("Expected max page %d, got %d", tt.maxPage, resp.MaxPage)
			}
			if resp.TotalItems != 3 {
				t.Errorf("Expected 3 total items, got %d", resp.TotalItems)
			}
		})
	}
}

func TestServePagedDrugsEmptyStore(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rr := httptest.NewRecorder()
	h.ServePagedDrugs(rr, httptest.NewRequest(http.MethodGet, "/v1/drugs", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestFindDrugByCode(t *testing.T) {
	h, _ := newTestHandler(t, testEntries())

	tests := []struct {
		code   string
		status int
	}{
		{"00000123", http.StatusOK},
		{"99999999", http.StatusNotFound},
		{"12ab", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/drugs/x", nil), "code", tt.code)
			rr := httptest.NewRecorder()
			h.FindDrugByCode(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.status == http.StatusOK {
				var entry entities.CompiledEntry
				if err := json.Unmarshal(rr.Body.Bytes(), &entry); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				if entry.BrandName != "TESTOCIN" {
					t.Errorf("Expected TESTOCIN, got %s", entry.BrandName)
				}
			}
		})
	}
}

func TestSearchDrugs(t *testing.T) {
	h, _ := newTestHandler(t, testEntries())

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"brand", "q=testocin", http.StatusOK, 1},
		{"accent folded", "q=acetaminophene", http.StatusOK, 1},
		{"all words", "q=tablet+500mg", http.StatusOK, 1},
		{"form", "q=tablet", http.StatusOK, 2},
		{"restricted only", "q=tablet&restricted=true", http.StatusOK, 1},
		{"no match", "q=zzzz", http.StatusOK, 0},
		{"too short", "q=a", http.StatusBadRequest, 0},
		{"injection", "q=%3Cscript%3E", http.StatusBadRequest, 0},
		{"bad flag", "q=tablet&restricted=maybe", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.SearchDrugs(rr, httptest.NewRequest(http.MethodGet, "/v1/drugs/search?"+tt.query, nil))

			if rr.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp struct {
				Count   int                      `json:"count"`
				Results []entities.CompiledEntry `json:"results"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Count != tt.count || len(resp.Results) != tt.count {
				t.Errorf("Expected %d results, got %d", tt.count, len(resp.Results))
			}
			if !strings.Contains(rr.Body.String(), `"results":[`) {
				t.Errorf("Expected a results array, got %s", rr.Body.String())
			}
		})
	}
}

func TestExportDrugs(t *testing.T) {
	h, _ := newTestHandler(t, testEntries())
	rr := httptest.NewRecorder()
	h.ExportDrugs(rr, httptest.NewRequest(http.MethodGet, "/v1/drugs/export", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Expected xlsx content type, got %s", ct)
	}
	// xlsx files are zip archives
	if !strings.HasPrefix(rr.Body.String(), "PK") {
		t.Error("Expected a zip payload")
	}

	empty, _ := newTestHandler(t, nil)
	rr = httptest.NewRecorder()
	empty.ExportDrugs(rr, httptest.NewRequest(http.MethodGet, "/v1/drugs/export", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without data, got %d", rr.Code)
	}
}

func TestServeCompiledFile(t *testing.T) {
	h, outputPath := newTestHandler(t, testEntries())

	rr := httptest.NewRecorder()
	h.ServeCompiledFile(rr, httptest.NewRequest(http.MethodGet, "/compiled_drug_data.json", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before the file exists, got %d", rr.Code)
	}

	if err := drugdata.WriteJSON(outputPath, testEntries()); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if err := drugdata.WriteGzipJSON(outputPath+".gz", testEntries()); err != nil {
		t.Fatalf("WriteGzipJSON failed: %v", err)
	}

	rr = httptest.NewRecorder()
	h.ServeCompiledFile(rr, httptest.NewRequest(http.MethodGet, "/compiled_drug_data.json", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	want, _ := os.ReadFile(outputPath)
	if rr.Body.String() != string(want) {
		t.Error("Expected the compiled file contents")
	}

	rr = httptest.NewRecorder()
	h.ServeCompiledFile(rr, httptest.NewRequest(http.MethodGet, "/compiled_drug_data.json.gz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Expected application/gzip, got %s", ct)
	}
}

func TestHealthCheckHandler(t *testing.T) {
	h, _ := newTestHandler(t, testEntries())
	rr := httptest.NewRecorder()
	h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", resp.Status)
	}
	if resp.Uptime != "1h 30m 0s" {
		t.Errorf("Expected uptime 1h 30m 0s, got %s", resp.Uptime)
	}
	if _, ok := resp.System["goroutines"]; !ok {
		t.Error("Expected goroutines in system details")
	}
	if rr.Header().Get("Last-Modified") == "" {
		t.Error("Expected Last-Modified header")
	}

	empty, _ := newTestHandler(t, nil)
	rr = httptest.NewRecorder()
	empty.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without data, got %d", rr.Code)
	}
}

func TestFormatUptimeHuman(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{61 * time.Second, "1m 1s"},
		{3*time.Hour + 5*time.Second, "3h 0m 5s"},
		{50 * time.Hour, "2d 2h 0m 0s"},
	}

	for _, tt := range tests {
		if got := formatUptimeHuman(tt.d); got != tt.expected {
			t.Errorf("For %s expected %s, got %s", tt.d, tt.expected, got)
		}
	}
}

var _ interfaces.HTTPHandler = (*HTTPHandlerImpl)(nil)
