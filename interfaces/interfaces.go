// Package interfaces defines the contracts between the compiler, the data
// store, the scheduler and the HTTP layer so each can be tested in isolation.
package interfaces

import (
	"context"
	"net/http"
	"time"

	"github.com/nextscript/emr-tools/drugdata/entities"
)

// DataQualityReport summarizes issues found in a compiled dataset
type DataQualityReport struct {
	TotalEntries            int
	RestrictedEntries       int
	DuplicateDrugCodes      []string
	DuplicateContentKeys    int
	EntriesWithoutBrand     int
	EntriesWithoutBrandCode []string // first 10
	RestrictedWithoutReason int
	UnscheduledRestricted   int // restricted by alias or denylist only
}

// DataStore holds the latest compiled dataset. Reads are lock free and an
// update replaces the whole dataset at once.
type DataStore interface {
	GetEntries() []entities.CompiledEntry
	GetEntry(code string) (entities.CompiledEntry, bool)
	Search(query string, restrictedOnly bool) []entities.CompiledEntry
	GetLastUpdated() time.Time
	IsUpdating() bool
	GetServerStartTime() time.Time

	UpdateData(entries []entities.CompiledEntry)
	SetLastUpdated(t time.Time)
	BeginUpdate() bool
	EndUpdate()
}

// Compiler produces a compiled dataset from the upstream API
type Compiler interface {
	Compile(ctx context.Context) ([]entities.CompiledEntry, error)
}

// Scheduler runs periodic jobs
type Scheduler interface {
	Start() error
	Stop()
}

// HTTPHandler serves the drug lookup API
type HTTPHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)

	ServePagedDrugs(w http.ResponseWriter, r *http.Request)
	FindDrugByCode(w http.ResponseWriter, r *http.Request)
	SearchDrugs(w http.ResponseWriter, r *http.Request)
	ExportDrugs(w http.ResponseWriter, r *http.Request)
	ServeCompiledFile(w http.ResponseWriter, r *http.Request)
	HealthCheck(w http.ResponseWriter, r *http.Request)
}

// HealthChecker reports service health from the state of the data store
type HealthChecker interface {
	HealthCheck() (status string, details map[string]any, httpStatus int)
	CalculateNextUpdate() time.Time
}

// DataValidator checks compiled data and user input
type DataValidator interface {
	ValidateEntry(e *entities.CompiledEntry) error
	ValidateDataIntegrity(entries []entities.CompiledEntry) error
	ReportDataQuality(entries []entities.CompiledEntry) *DataQualityReport
	ValidateInput(input string) error
	ValidateDrugCode(input string) (string, error)
}

// Uploader copies a local file to object storage under key
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}
