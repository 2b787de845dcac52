// Package health derives service health from the state of the drug data store.
package health

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/nextscript/emr-tools/interfaces"
)

// HealthCheckerImpl implements the interfaces.HealthChecker interface
type HealthCheckerImpl struct {
	dataStore    interfaces.DataStore
	compileTimes []clock
}

type clock struct {
	hour, minute int
}

// NewHealthChecker creates a health checker. compileTimes uses the scheduler
// syntax, e.g. "03:00;15:00".
func NewHealthChecker(dataStore interfaces.DataStore, compileTimes string) interfaces.HealthChecker {
	return &HealthCheckerImpl{
		dataStore:    dataStore,
		compileTimes: parseClocks(compileTimes),
	}
}

func parseClocks(spec string) []clock {
	var clocks []clock
	for _, part := range strings.Split(spec, ";") {
		t, err := time.Parse("15:04", strings.TrimSpace(part))
		if err != nil {
			continue
		}
		clocks = append(clocks, clock{t.Hour(), t.Minute()})
	}
	if len(clocks) == 0 {
		clocks = []clock{{3, 0}}
	}
	return clocks
}

// HealthCheck returns health status, details and the HTTP status to serve.
// Data is compiled daily, so anything older than a day is degraded.
func (h *HealthCheckerImpl) HealthCheck() (status string, data map[string]any, httpStatus int) {
	entries := h.dataStore.GetEntries()
	lastUpdate := h.dataStore.GetLastUpdated()
	isUpdating := h.dataStore.IsUpdating()

	dataAge := time.Since(lastUpdate)

	switch {
	case len(entries) == 0:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable

	case dataAge > 72*time.Hour:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable

	case dataAge > 26*time.Hour:
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable

	case isUpdating && dataAge > 6*time.Hour:
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable

	default:
		status = "healthy"
		httpStatus = http.StatusOK
	}

	restricted := 0
	for _, e := range entries {
		if e.IsRestricted {
			restricted++
		}
	}

	data = map[string]any{
		"last_update":    lastUpdate.Format(time.RFC3339),
		"data_age_hours": math.Round(dataAge.Hours()*10) / 10,
		"entries":        len(entries),
		"restricted":     restricted,
		"is_updating":    isUpdating,
		"next_update":    h.CalculateNextUpdate().Format(time.RFC3339),
	}

	return status, data, httpStatus
}

// CalculateNextUpdate returns the next scheduled compile time
func (h *HealthCheckerImpl) CalculateNextUpdate() time.Time {
	return nextRun(time.Now(), h.compileTimes)
}

func nextRun(now time.Time, clocks []clock) time.Time {
	var next time.Time
	for _, c := range clocks {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), c.hour, c.minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}
