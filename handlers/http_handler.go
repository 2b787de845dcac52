// Package handlers provides the HTTP handlers of the drug lookup API.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/export"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 500
	maxSearchResults = 200
)

// HTTPHandlerImpl implements the interfaces.HTTPHandler interface
type HTTPHandlerImpl struct {
	dataStore  interfaces.DataStore
	validator  interfaces.DataValidator
	health     interfaces.HealthChecker
	outputPath string
}

// NewHTTPHandler creates a new HTTP handler with injected dependencies.
// outputPath is the uncompressed compiled dataset; the compressed one sits
// next to it with a .gz suffix.
func NewHTTPHandler(dataStore interfaces.DataStore, validator interfaces.DataValidator, health interfaces.HealthChecker, outputPath string) interfaces.HTTPHandler {
	return &HTTPHandlerImpl{
		dataStore:  dataStore,
		validator:  validator,
		health:     health,
		outputPath: outputPath,
	}
}

// ServeHTTP implements the http.Handler interface. Routing is done by chi.
func (h *HTTPHandlerImpl) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.RespondWithError(w, http.StatusNotFound, "Unknown endpoint")
}

// HealthResponse keeps a stable field order in health output
type HealthResponse struct {
	Status        string         `json:"status"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Data          map[string]any `json:"data"`
	System        map[string]any `json:"system"`
}

// PagedResponse is one page of compiled entries
type PagedResponse struct {
	Data       []entities.CompiledEntry `json:"data"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	TotalItems int                      `json:"total_items"`
	MaxPage    int                      `json:"max_page"`
}

// RespondWithJSON writes a JSON response
func (h *HTTPHandlerImpl) RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if last := h.dataStore.GetLastUpdated(); !last.IsZero() {
		w.Header().Set("Last-Modified", last.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(code)
	w.Write(data)
}

// RespondWithError writes a JSON error response
func (h *HTTPHandlerImpl) RespondWithError(w http.ResponseWriter, code int, message string) {
	h.RespondWithJSON(w, code, map[string]any{
		"error":   http.StatusText(code),
		"message": message,
		"code":    code,
	})
}

// ServePagedDrugs returns one page of compiled entries.
// Query parameters: page (from 1) and page_size.
func (h *HTTPHandlerImpl) ServePagedDrugs(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil || page < 1 {
		logging.Warn("Unusual user input", "page", r.URL.Query().Get("page"))
		h.RespondWithError(w, http.StatusBadRequest, "Invalid page number")
		return
	}

	pageSize, err := intParam(r, "page_size", defaultPageSize)
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		h.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("page_size must be between 1 and %d", maxPageSize))
		return
	}

	entries := h.dataStore.GetEntries()
	maxPage := (len(entries) + pageSize - 1) / pageSize
	// page must be bounded before computing the offset; an empty store still has page 1
	if page > max(maxPage, 1) {
		h.RespondWithError(w, http.StatusNotFound, "Page not found")
		return
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, len(entries))

	h.RespondWithJSON(w, http.StatusOK, PagedResponse{
		Data:       entries[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(entries),
		MaxPage:    maxPage,
	})
}

// FindDrugByCode returns the entry for a drug code
func (h *HTTPHandlerImpl) FindDrugByCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.validator.ValidateDrugCode(chi.URLParam(r, "code"))
	if err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, ok := h.dataStore.GetEntry(code)
	if !ok {
		h.RespondWithError(w, http.StatusNotFound, "Drug not found")
		return
	}

	h.RespondWithJSON(w, http.StatusOK, entry)
}

// SearchDrugs matches every word of q against brand, ingredients and form.
// restricted=true limits results to restricted products.
func (h *HTTPHandlerImpl) SearchDrugs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if err := h.validator.ValidateInput(query); err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	restrictedOnly := false
	if raw := r.URL.Query().Get("restricted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.RespondWithError(w, http.StatusBadRequest, "restricted must be true or false")
			return
		}
		restrictedOnly = v
	}

	results := h.dataStore.Search(query, restrictedOnly)
	truncated := len(results) > maxSearchResults
	if truncated {
		results = results[:maxSearchResults]
	}

	// Always 200 with a results array, empty when nothing matches
	h.RespondWithJSON(w, http.StatusOK, map[string]any{
		"query":     query,
		"count":     len(results),
		"truncated": truncated,
		"results":   results,
	})
}

// ExportDrugs streams the dataset as an XLSX workbook
func (h *HTTPHandlerImpl) ExportDrugs(w http.ResponseWriter, r *http.Request) {
	entries := h.dataStore.GetEntries()
	if len(entries) == 0 {
		h.RespondWithError(w, http.StatusServiceUnavailable, "Drug data not loaded yet")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="compiled_drug_data.xlsx"`)
	if err := export.WriteXLSX(w, entries); err != nil {
		logging.Error("Failed to export drug data", "error", err)
	}
}

// ServeCompiledFile serves the compiled dataset file, or its gzip copy when
// the request path ends in .gz
func (h *HTTPHandlerImpl) ServeCompiledFile(w http.ResponseWriter, r *http.Request) {
	path := h.outputPath
	contentType := "application/json; charset=utf-8"
	if strings.HasSuffix(r.URL.Path, ".gz") {
		path += ".gz"
		contentType = "application/gzip"
	}

	if _, err := os.Stat(path); err != nil {
		h.RespondWithError(w, http.StatusNotFound, "Compiled data not available")
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

// HealthCheck returns service health and process statistics
func (h *HTTPHandlerImpl) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, data, httpStatus := h.health.HealthCheck()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var uptime time.Duration
	if start := h.dataStore.GetServerStartTime(); !start.IsZero() {
		uptime = time.Since(start)
	}

	h.RespondWithJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Uptime:        formatUptimeHuman(uptime),
		UptimeSeconds: uptime.Seconds(),
		Data:          data,
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb": int(m.Alloc / 1024 / 1024),
				"sys_mb":   int(m.Sys / 1024 / 1024),
				"num_gc":   m.NumGC,
			},
		},
	})
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// formatUptimeHuman formats duration into a human-readable string
func formatUptimeHuman(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))

	return strings.Join(parts, " ")
}
