package drugdata

import (
	"sort"
	"strings"

	"github.com/nextscript/emr-tools/drugdata/entities"
)

// Datasets are the four raw API datasets a compile run works from
type Datasets struct {
	Schedules   []entities.RawRecord
	Products    []entities.RawRecord
	Ingredients []entities.RawRecord
	Forms       []entities.RawRecord
}

// CompileStats summarizes a compile run
type CompileStats struct {
	IndexStats
	Products             int
	Entries              int
	Restricted           int
	SkippedNoIngredients int
	SkippedNoForms       int
	Duplicates           int
	MultiForm            int // products whose extra forms were dropped
}

// Compile joins products with their ingredients, forms and schedules and
// classifies each one. Products without ingredients or forms are skipped.
// Products whose ingredient list and form match an earlier product are
// dropped, keeping the first drug code. Output follows product order.
//
// Only the first form of a product is used, so multi-form kits end up as a
// single row.
func Compile(data Datasets, classifier *Classifier) ([]entities.CompiledEntry, CompileStats) {
	var stats CompileStats

	ingredients := BuildIngredientIndex(data.Ingredients, &stats.IndexStats)
	forms := BuildFormIndex(data.Forms, &stats.IndexStats)
	schedules := BuildScheduleIndex(data.Schedules, &stats.IndexStats)
	products := BuildProductIndex(data.Products, &stats.IndexStats)
	stats.Products = len(products)

	compiled := make([]entities.CompiledEntry, 0, len(products))
	seen := make(map[string]struct{}, len(products))

	for _, product := range products {
		code := product.Code()

		ings := ingredients[code]
		if len(ings) == 0 {
			stats.SkippedNoIngredients++
			continue
		}
		productForms := forms[code]
		if len(productForms) == 0 {
			stats.SkippedNoForms++
			continue
		}
		if len(productForms) > 1 {
			stats.MultiForm++
		}
		form := productForms[0]

		sorted := sortIngredients(ings)
		display := make([]string, len(sorted))
		for i, ing := range sorted {
			display[i] = ing.Display()
		}

		key := DedupKey(display, form.Normalized)
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		brand := product.String("brand_name")
		scheduleNames := schedules.Names(code)
		decision := classifier.Classify(brand, schedules.Labels(code), sorted)
		if decision.Restricted {
			stats.Restricted++
		}

		compiled = append(compiled, entities.CompiledEntry{
			DrugCode:          code,
			BrandName:         brand,
			Ingredients:       display,
			DosageForm:        form.Name,
			NormalizedForm:    form.Normalized,
			IsRestricted:      decision.Restricted,
			RestrictionReason: decision.Reason,
			Schedules:         scheduleNames,
			Descriptor:        product.String("descriptor"),
			Status:            product.String("status"),
			HistoryDate:       product.String("history_date"),
			SearchText:        searchText(brand, display, form.Normalized),
		})
	}

	stats.Entries = len(compiled)
	return compiled, stats
}

// DedupKey identifies a product by content: its sorted ingredient display
// list and normalized form
func DedupKey(display []string, normalizedForm string) string {
	return strings.Join(display, "|") + "||" + normalizedForm
}

// sortIngredients orders ingredients by cleaned name, then by display text,
// without touching the index slice
func sortIngredients(ings []entities.NormalizedIngredient) []entities.NormalizedIngredient {
	sorted := append([]entities.NormalizedIngredient{}, ings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CleanedName != sorted[j].CleanedName {
			return sorted[i].CleanedName < sorted[j].CleanedName
		}
		return sorted[i].Display() < sorted[j].Display()
	})
	return sorted
}

func searchText(brand string, display []string, normalizedForm string) string {
	parts := make([]string, 0, len(display)+2)
	if b := NormalizeText(brand); b != "" {
		parts = append(parts, b)
	}
	for _, d := range display {
		parts = append(parts, strings.ToLower(d))
	}
	parts = append(parts, normalizedForm)
	return strings.Join(parts, " ")
}
