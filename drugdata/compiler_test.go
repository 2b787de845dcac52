package drugdata

import (
	"testing"

	"github.com/nextscript/emr-tools/drugdata/entities"
)

func product(code, brand string) entities.RawRecord {
	return entities.RawRecord{"drug_code": code, "brand_name": brand, "status": "MARKETED"}
}

func ingredientRecord(code, name, strength, unit string) entities.RawRecord {
	return entities.RawRecord{"drug_code": code, "ingredient_name": name, "strength": strength, "strength_unit": unit}
}

func formRecord(code, name string) entities.RawRecord {
	return entities.RawRecord{"drug_code": code, "pharmaceutical_form_name": name}
}

func scheduleRecord(code, name string) entities.RawRecord {
	return entities.RawRecord{"drug_code": code, "schedule_name": name}
}

func TestCompileEndToEnd(t *testing.T) {
	data := Datasets{
		Products:    []entities.RawRecord{product("01", "TESTOCIN")},
		Ingredients: []entities.RawRecord{ingredientRecord("01", "Codeine Phosphate", "30.0", "MG")},
		Forms:       []entities.RawRecord{formRecord("01", "Tablet")},
	}

	entries, stats := Compile(data, NewClassifier(aliasSet("codeine"), ClassifierOptions{Strict: true}))
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if len(e.Ingredients) != 1 || e.Ingredients[0] != "codeine phosphate 30MG" {
		t.Errorf("Expected ingredients [codeine phosphate 30MG], got %v", e.Ingredients)
	}
	if e.DosageForm != "Tablet" || e.NormalizedForm != "tablet" {
		t.Errorf("Unexpected form %q / %q", e.DosageForm, e.NormalizedForm)
	}
	if !e.IsRestricted {
		t.Error("Expected entry to be restricted")
	}
	if e.SearchText != "testocin codeine phosphate 30mg tablet" {
		t.Errorf("Unexpected search text %q", e.SearchText)
	}
	if e.Status != "MARKETED" {
		t.Errorf("Expected status carried from product, got %q", e.Status)
	}
	if stats.Restricted != 1 || stats.Entries != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestCompileDeduplicatesByContent(t *testing.T) {
	data := Datasets{
		Products: []entities.RawRecord{
			product("10", "ACETA"),
			product("11", "OTHER ACETA"),
			product("12", "ACETA CAPS"),
		},
		Ingredients: []entities.RawRecord{
			ingredientRecord("10", "Acetaminophen", "500", "MG"),
			ingredientRecord("11", "ACETAMINOPHEN (as anhydrous)", "500.0", "MG"),
			ingredientRecord("12", "Acetaminophen", "500", "MG"),
		},
		Forms: []entities.RawRecord{
			formRecord("10", "Tablet"),
			formRecord("11", "TABLET"),
			formRecord("12", "Capsule"),
		},
	}

	entries, stats := Compile(data, NewClassifier(nil, ClassifierOptions{}))
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].DrugCode != "10" || entries[1].DrugCode != "12" {
		t.Errorf("Expected first code kept in product order, got %s, %s", entries[0].DrugCode, entries[1].DrugCode)
	}
	if stats.Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", stats.Duplicates)
	}

	// Compiling again gives the same result
	again, _ := Compile(data, NewClassifier(nil, ClassifierOptions{}))
	if len(again) != len(entries) || again[0].DrugCode != entries[0].DrugCode {
		t.Error("Expected compile to be deterministic")
	}
}

func TestCompileSkipsIncompleteProducts(t *testing.T) {
	data := Datasets{
		Products: []entities.RawRecord{
			product("20", "NO INGREDIENTS"),
			product("21", "NO FORMS"),
			product("22", "COMPLETE"),
			{"brand_name": "NO CODE"},
		},
		Ingredients: []entities.RawRecord{
			ingredientRecord("21", "Ibuprofen", "200", "MG"),
			ingredientRecord("22", "Ibuprofen", "400", "MG"),
			ingredientRecord("22", "(blank)", "1", "MG"),
		},
		Forms: []entities.RawRecord{
			formRecord("20", "Tablet"),
			formRecord("22", "Tablet"),
			formRecord("22", ""),
		},
	}

	entries, stats := Compile(data, NewClassifier(nil, ClassifierOptions{}))
	if len(entries) != 1 || entries[0].DrugCode != "22" {
		t.Fatalf("Expected only product 22, got %+v", entries)
	}
	if stats.SkippedNoIngredients != 1 || stats.SkippedNoForms != 1 {
		t.Errorf("Unexpected skip counts %+v", stats)
	}
	if stats.SkippedProducts != 1 || stats.SkippedIngredients != 1 || stats.SkippedForms != 1 {
		t.Errorf("Unexpected record skip counts %+v", stats.IndexStats)
	}
}

func TestCompileFirstFormWinsAndSortsIngredients(t *testing.T) {
	data := Datasets{
		Products: []entities.RawRecord{product("30", "COMBO KIT"), product("30", "SHADOWED")},
		Ingredients: []entities.RawRecord{
			ingredientRecord("30", "Zinc", "10", "MG"),
			ingredientRecord("30", "Ascorbic Acid", "", ""),
		},
		Forms: []entities.RawRecord{
			formRecord("30", "Kit"),
			formRecord("30", "Tablet"),
		},
		Schedules: []entities.RawRecord{
			scheduleRecord("30", "OTC"),
			scheduleRecord("30", "otc "),
			scheduleRecord("30", "Prescription"),
		},
	}

	entries, stats := Compile(data, NewClassifier(nil, ClassifierOptions{}))
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.BrandName != "COMBO KIT" {
		t.Errorf("Expected first product record to win, got %q", e.BrandName)
	}
	if e.DosageForm != "Kit" {
		t.Errorf("Expected first form, got %q", e.DosageForm)
	}
	if e.Ingredients[0] != "ascorbic acid" || e.Ingredients[1] != "zinc 10MG" {
		t.Errorf("Expected sorted ingredients, got %v", e.Ingredients)
	}
	if len(e.Schedules) != 2 || e.Schedules[0] != "otc" || e.Schedules[1] != "prescription" {
		t.Errorf("Expected collapsed sorted schedules, got %v", e.Schedules)
	}
	if labels := BuildScheduleIndex(data.Schedules, &IndexStats{}).Labels("30"); len(labels) != 2 || labels[0] != "OTC" || labels[1] != "Prescription" {
		t.Errorf("Expected first source spelling per schedule, got %v", labels)
	}
	if stats.MultiForm != 1 || stats.DuplicateProducts != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestDedupKey(t *testing.T) {
	key := DedupKey([]string{"a 1MG", "b 2MG"}, "tablet")
	if key != "a 1MG|b 2MG||tablet" {
		t.Errorf("Unexpected key %q", key)
	}
}
