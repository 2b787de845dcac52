package drugdata

import (
	"strings"

	"github.com/nextscript/emr-tools/drugdata/entities"
)

// IndexStats tallies records dropped while indexing
type IndexStats struct {
	SkippedIngredients int
	SkippedForms       int
	SkippedSchedules   int
	SkippedProducts    int
	DuplicateProducts  int
}

// BuildIngredientIndex groups normalized ingredients by drug code, keeping
// source order
func BuildIngredientIndex(records []entities.RawRecord, stats *IndexStats) map[string][]entities.NormalizedIngredient {
	index := make(map[string][]entities.NormalizedIngredient)
	for _, r := range records {
		ing, ok := NormalizeIngredient(r)
		if !ok {
			stats.SkippedIngredients++
			continue
		}
		index[ing.Code] = append(index[ing.Code], ing)
	}
	return index
}

// BuildFormIndex groups normalized forms by drug code, keeping source order
func BuildFormIndex(records []entities.RawRecord, stats *IndexStats) map[string][]entities.NormalizedForm {
	index := make(map[string][]entities.NormalizedForm)
	for _, r := range records {
		form, ok := NormalizeForm(r)
		if !ok {
			stats.SkippedForms++
			continue
		}
		index[form.Code] = append(index[form.Code], form)
	}
	return index
}

// BuildScheduleIndex collects the set of normalized schedule names per code,
// remembering the first source spelling of each
func BuildScheduleIndex(records []entities.RawRecord, stats *IndexStats) entities.ScheduleIndex {
	index := make(entities.ScheduleIndex)
	for _, r := range records {
		code := r.Code()
		label := strings.TrimSpace(r.String("schedule_name"))
		name := NormalizeText(label)
		if code == "" || name == "" {
			stats.SkippedSchedules++
			continue
		}
		if index[code] == nil {
			index[code] = make(map[string]string)
		}
		if _, ok := index[code][name]; !ok {
			index[code][name] = label
		}
	}
	return index
}

// BuildProductIndex returns one product per drug code in source order. The
// first record seen for a code wins.
func BuildProductIndex(records []entities.RawRecord, stats *IndexStats) []entities.RawRecord {
	seen := make(map[string]bool, len(records))
	products := make([]entities.RawRecord, 0, len(records))
	for _, r := range records {
		code := r.Code()
		if code == "" {
			stats.SkippedProducts++
			continue
		}
		if seen[code] {
			stats.DuplicateProducts++
			continue
		}
		seen[code] = true
		products = append(products, r)
	}
	return products
}
