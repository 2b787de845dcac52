package drugdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/drugdata/entities"
)

// mockFetcher serves canned datasets and fails the ones listed in failures
type mockFetcher struct {
	datasets map[string][]entities.RawRecord
	failures map[string]error
	calls    []string
}

func (m *mockFetcher) Fetch(ctx context.Context, name, path string) ([]entities.RawRecord, error) {
	m.calls = append(m.calls, name)
	if err := m.failures[name]; err != nil {
		return nil, err
	}
	return m.datasets[name], nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	restricted := filepath.Join(dir, "restricted_drugs.json")
	if err := os.WriteFile(restricted, []byte(`["codeine"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		RestrictedFile:    restricted,
		OutputDir:         dir,
		OutputFile:        "compiled_drug_data.json",
		CompressOutput:    true,
		RestrictionMatch:  config.MatchPrefix,
		RestrictionStrict: true,
	}
}

func testocinDatasets() map[string][]entities.RawRecord {
	return map[string][]entities.RawRecord{
		DatasetSchedule:         {},
		DatasetDrugProduct:      {product("01", "TESTOCIN")},
		DatasetActiveIngredient: {ingredientRecord("01", "Codeine Phosphate", "30.0", "MG")},
		DatasetForm:             {formRecord("01", "Tablet")},
	}
}

func TestPipelineRun(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &mockFetcher{datasets: testocinDatasets()}

	result, err := NewPipelineWithFetcher(cfg, fetcher).Run(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expectedOrder := []string{DatasetSchedule, DatasetDrugProduct, DatasetActiveIngredient, DatasetForm}
	if strings.Join(fetcher.calls, ",") != strings.Join(expectedOrder, ",") {
		t.Errorf("Expected fetch order %v, got %v", expectedOrder, fetcher.calls)
	}
	if result.RunID == "" {
		t.Error("Expected a run id")
	}
	if len(result.Entries) != 1 || !result.Entries[0].IsRestricted {
		t.Fatalf("Expected one restricted entry, got %+v", result.Entries)
	}
	if len(result.Outputs) != 2 {
		t.Errorf("Expected plain and compressed outputs, got %v", result.Outputs)
	}

	for _, path := range []string{cfg.OutputPath(), cfg.CompressedOutputPath()} {
		entries, err := ReadCompiled(path)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", path, err)
		}
		if len(entries) != 1 || entries[0].Ingredients[0] != "codeine phosphate 30MG" {
			t.Errorf("Unexpected content in %s: %+v", path, entries)
		}
	}
	if result.Report == nil || result.Report.RestrictedEntries != 1 {
		t.Errorf("Expected quality report with 1 restricted entry, got %+v", result.Report)
	}
}

func TestPipelineAbortsWithoutProducts(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &mockFetcher{
		datasets: testocinDatasets(),
		failures: map[string]error{
			DatasetDrugProduct: &FetchError{Dataset: DatasetDrugProduct, Kind: KindHTTPStatus, StatusCode: 503},
		},
	}

	_, err := NewPipelineWithFetcher(cfg, fetcher).Run(context.Background())
	if !errors.Is(err, ErrEssentialDataset) {
		t.Fatalf("Expected ErrEssentialDataset, got %v", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 503 {
		t.Errorf("Expected wrapped fetch error, got %v", err)
	}
	if _, statErr := os.Stat(cfg.OutputPath()); !os.IsNotExist(statErr) {
		t.Error("Expected no output to be written")
	}
}

func TestPipelineContinuesWithoutOptionalDatasets(t *testing.T) {
	cfg := testConfig(t)
	cfg.CompressOutput = false
	fetcher := &mockFetcher{
		datasets: testocinDatasets(),
		failures: map[string]error{
			DatasetSchedule: &FetchError{Dataset: DatasetSchedule, Kind: KindTimeout, Err: context.DeadlineExceeded},
			DatasetForm:     errors.New("boom"),
		},
	}

	result, err := NewPipelineWithFetcher(cfg, fetcher).Run(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.FailedDatasets) != 2 {
		t.Errorf("Expected 2 failed datasets, got %v", result.FailedDatasets)
	}
	// No forms means nothing is displayable
	if len(result.Entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(result.Entries))
	}
	if _, err := os.Stat(cfg.CompressedOutputPath()); !os.IsNotExist(err) {
		t.Error("Expected no compressed output when compression is off")
	}
}

func TestPipelineFailsOnWriteError(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputDir = filepath.Join(cfg.OutputDir, "does-not-exist")

	_, err := NewPipelineWithFetcher(cfg, &mockFetcher{datasets: testocinDatasets()}).Run(context.Background())
	if err == nil {
		t.Error("Expected write error to abort the run")
	}
}

func TestPipelineOverHTTP(t *testing.T) {
	bodies := map[string]string{
		"/schedule/":         `[{"drug_code": "02", "schedule_name": "Narcotic (CDSA I)"}]`,
		"/drugproduct/":      `[{"drug_code": "01", "brand_name": "TESTOCIN"}, {"drug_code": "02", "brand_name": "OPIO"}]`,
		"/activeingredient/": `[{"drug_code": "01", "ingredient_name": "Codeine Phosphate", "strength": "30.0", "strength_unit": "MG"}, {"drug_code": "02", "ingredient_name": "Oxycodone Hydrochloride", "strength": "5", "strength_unit": "MG"}]`,
		"/form/":             `[{"drug_code": "01", "pharmaceutical_form_name": "Tablet"}, {"drug_code": "02", "pharmaceutical_form_name": "Tablet"}]`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.DrugAPIBaseURL = server.URL
	cfg.DrugAPITimeout = 5 * time.Second

	entries, err := NewPipeline(cfg).Compile(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[1].RestrictionReason != "Schedule (Narcotic (CDSA I))" {
		t.Errorf("Expected schedule reason, got %q", entries[1].RestrictionReason)
	}
}
