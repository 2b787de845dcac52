// Package data holds the compiled drug dataset served by the lookup API.
// Updates swap a whole snapshot atomically so readers never see a partial
// dataset.
package data

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nextscript/emr-tools/drugdata"
	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
)

// Compile-time check to ensure DataContainer implements DataStore
var _ interfaces.DataStore = (*DataContainer)(nil)

// DefaultSearchCacheSize is the number of distinct queries kept in the cache
const DefaultSearchCacheSize = 1024

// snapshot is one immutable version of the dataset
type snapshot struct {
	generation uint64
	entries    []entities.CompiledEntry
	byCode     map[string]int
	folded     []string // folded search text, parallel to entries
}

// DataContainer holds the current snapshot with atomic swaps for zero-downtime updates
type DataContainer struct {
	current         atomic.Pointer[snapshot]
	lastUpdated     atomic.Value // time.Time
	updating        atomic.Bool
	serverStartTime atomic.Value // time.Time
	searchCache     *lru.Cache[string, []int]
}

// NewDataContainer creates a new DataContainer with empty data
func NewDataContainer() *DataContainer {
	cache, err := lru.New[string, []int](DefaultSearchCacheSize)
	if err != nil {
		// Only fails for a non-positive size
		panic(err)
	}

	dc := &DataContainer{searchCache: cache}
	dc.current.Store(&snapshot{byCode: map[string]int{}})
	dc.lastUpdated.Store(time.Time{})
	dc.serverStartTime.Store(time.Time{})
	return dc
}

func (dc *DataContainer) load() *snapshot {
	if s := dc.current.Load(); s != nil {
		return s
	}
	logging.Warn("Drug data snapshot is missing")
	return &snapshot{byCode: map[string]int{}}
}

// GetEntries returns all compiled entries in output order
func (dc *DataContainer) GetEntries() []entities.CompiledEntry {
	return dc.load().entries
}

// GetEntry returns the entry with the given drug code
func (dc *DataContainer) GetEntry(code string) (entities.CompiledEntry, bool) {
	s := dc.load()
	i, ok := s.byCode[code]
	if !ok {
		return entities.CompiledEntry{}, false
	}
	return s.entries[i], true
}

// Search returns entries whose search text contains every word of query,
// ignoring case and accents. Results keep output order.
func (dc *DataContainer) Search(query string, restrictedOnly bool) []entities.CompiledEntry {
	s := dc.load()
	terms := strings.Fields(drugdata.FoldForSearch(query))
	if len(terms) == 0 {
		return []entities.CompiledEntry{}
	}

	key := strconv.FormatUint(s.generation, 10) + "|" + strconv.FormatBool(restrictedOnly) + "|" + strings.Join(terms, " ")
	indexes, ok := dc.searchCache.Get(key)
	if !ok {
		indexes = []int{}
		for i, text := range s.folded {
			if restrictedOnly && !s.entries[i].IsRestricted {
				continue
			}
			if containsAll(text, terms) {
				indexes = append(indexes, i)
			}
		}
		dc.searchCache.Add(key, indexes)
	}

	results := make([]entities.CompiledEntry, len(indexes))
	for j, i := range indexes {
		results[j] = s.entries[i]
	}
	return results
}

func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

// GetLastUpdated returns the timestamp of the last data update
func (dc *DataContainer) GetLastUpdated() time.Time {
	if v, ok := dc.lastUpdated.Load().(time.Time); ok {
		return v
	}
	logging.Warn("Could not get the last updated value")
	return time.Time{}
}

// IsUpdating returns true if a data update is currently in progress
func (dc *DataContainer) IsUpdating() bool {
	return dc.updating.Load()
}

// SetLastUpdated overrides the time of the last data update, e.g. with the
// modification time of a compiled file loaded from disk
func (dc *DataContainer) SetLastUpdated(t time.Time) {
	dc.lastUpdated.Store(t)
}

// SetServerStartTime sets the server start time
func (dc *DataContainer) SetServerStartTime(startTime time.Time) {
	dc.serverStartTime.Store(startTime)
}

// GetServerStartTime returns the server start time
func (dc *DataContainer) GetServerStartTime() time.Time {
	if v, ok := dc.serverStartTime.Load().(time.Time); ok {
		return v
	}
	return time.Time{}
}

// UpdateData replaces the dataset. The first entry wins if a drug code
// appears twice.
func (dc *DataContainer) UpdateData(entries []entities.CompiledEntry) {
	next := &snapshot{
		generation: dc.load().generation + 1,
		entries:    entries,
		byCode:     make(map[string]int, len(entries)),
		folded:     make([]string, len(entries)),
	}
	for i, e := range entries {
		if _, exists := next.byCode[e.DrugCode]; !exists {
			next.byCode[e.DrugCode] = i
		}
		next.folded[i] = drugdata.FoldForSearch(e.SearchText)
	}

	dc.current.Store(next)
	dc.searchCache.Purge()
	dc.lastUpdated.Store(time.Now())
}

// BeginUpdate marks the start of a data update operation
// Returns true if update can proceed, false if another update is in progress
func (dc *DataContainer) BeginUpdate() bool {
	return dc.updating.CompareAndSwap(false, true)
}

// EndUpdate marks the end of a data update operation
func (dc *DataContainer) EndUpdate() {
	dc.updating.Store(false)
}
