// Package validation checks compiled drug data and user supplied input.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
)

var (
	// Letters (any script), digits, spaces and the punctuation found in drug
	// names and strengths
	inputRegex = regexp.MustCompile(`^[\p{L}\p{M}0-9\s\-\.\+'/%,]+$`)

	// strings.Contains is cheaper than a regex for these
	dangerousPatterns = []string{
		"<script", "</script>", "javascript:", "vbscript:", "onload=", "onerror=",
		"onclick=", "onmouseover=", "onfocus=", "eval(", "expression(", "@import",
		// SQL injection
		"' or ", "\" or ", "union select", "drop table", "delete from", "insert into",
		"update set", "--", "/*", "*/", "xp_", "exec(", "execute(",
		// Command injection
		"; ", "| ", "& ", "`", "$(", "${",
		// Path traversal
		"../", "..\\", "%2e%2e", "file://",
		// NoSQL injection
		"{$ne:", "{$gt:", "{$where:", "{$or:", "{$regex:",
	}
)

const (
	maxBrandLength      = 200
	maxIngredientLength = 300
	maxDrugCodeLength   = 10
)

// Compile-time check
var _ interfaces.DataValidator = (*DataValidatorImpl)(nil)

// DataValidatorImpl implements the interfaces.DataValidator interface
type DataValidatorImpl struct{}

// NewDataValidator creates a new data validator
func NewDataValidator() interfaces.DataValidator {
	return &DataValidatorImpl{}
}

// ValidateEntry checks if a compiled entry is displayable
func (v *DataValidatorImpl) ValidateEntry(e *entities.CompiledEntry) error {
	if e == nil {
		return fmt.Errorf("entry is nil")
	}

	if strings.TrimSpace(e.DrugCode) == "" {
		return fmt.Errorf("empty drug code")
	}

	if len(e.BrandName) > maxBrandLength {
		return fmt.Errorf("brand name too long for drug code %s: %d characters", e.DrugCode, len(e.BrandName))
	}

	if len(e.Ingredients) == 0 {
		return fmt.Errorf("no ingredients for drug code %s", e.DrugCode)
	}
	for _, ing := range e.Ingredients {
		if strings.TrimSpace(ing) == "" {
			return fmt.Errorf("empty ingredient for drug code %s", e.DrugCode)
		}
		if len(ing) > maxIngredientLength {
			return fmt.Errorf("ingredient too long for drug code %s: %d characters", e.DrugCode, len(ing))
		}
	}

	if strings.TrimSpace(e.DosageForm) == "" || e.NormalizedForm == "" {
		return fmt.Errorf("no dosage form for drug code %s", e.DrugCode)
	}

	if e.IsRestricted && e.RestrictionReason == "" {
		return fmt.Errorf("restricted drug code %s has no restriction reason", e.DrugCode)
	}

	return nil
}

// ValidateDataIntegrity validates every entry and checks drug codes are unique
func (v *DataValidatorImpl) ValidateDataIntegrity(entries []entities.CompiledEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("no compiled entries found")
	}

	codes := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		if codes[e.DrugCode] {
			return fmt.Errorf("duplicate drug code found: %s", e.DrugCode)
		}
		codes[e.DrugCode] = true

		if err := v.ValidateEntry(e); err != nil {
			return fmt.Errorf("invalid entry %d: %w", i, err)
		}
	}

	return nil
}

// ReportDataQuality collects every issue instead of stopping at the first one
func (v *DataValidatorImpl) ReportDataQuality(entries []entities.CompiledEntry) *interfaces.DataQualityReport {
	report := &interfaces.DataQualityReport{
		TotalEntries:            len(entries),
		DuplicateDrugCodes:      []string{},
		EntriesWithoutBrandCode: []string{},
	}

	codes := make(map[string]bool, len(entries))
	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		if codes[e.DrugCode] {
			report.DuplicateDrugCodes = append(report.DuplicateDrugCodes, e.DrugCode)
		}
		codes[e.DrugCode] = true

		key := strings.Join(e.Ingredients, "|") + "||" + e.NormalizedForm
		if keys[key] {
			report.DuplicateContentKeys++
		}
		keys[key] = true

		if strings.TrimSpace(e.BrandName) == "" {
			report.EntriesWithoutBrand++
			if len(report.EntriesWithoutBrandCode) < 10 {
				report.EntriesWithoutBrandCode = append(report.EntriesWithoutBrandCode, e.DrugCode)
			}
		}

		if e.IsRestricted {
			report.RestrictedEntries++
			if e.RestrictionReason == "" {
				report.RestrictedWithoutReason++
			}
			if len(e.Schedules) == 0 {
				report.UnscheduledRestricted++
			}
		}
	}

	if len(report.DuplicateDrugCodes) > 0 {
		logging.Error("Duplicate drug codes detected",
			"count", len(report.DuplicateDrugCodes),
			"duplicates", report.DuplicateDrugCodes,
		)
	}

	return report
}

// ValidateInput validates search strings
func (v *DataValidatorImpl) ValidateInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("input cannot be empty")
	}

	if len(input) < 2 {
		return fmt.Errorf("input too short: minimum 2 characters")
	}

	if len(input) > 80 {
		return fmt.Errorf("input too long: maximum 80 characters")
	}

	// Many short words make search expensive
	if len(strings.Fields(input)) > 8 {
		return fmt.Errorf("search query too complex: maximum 8 words allowed")
	}

	lowerInput := strings.ToLower(input)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lowerInput, pattern) {
			return fmt.Errorf("input contains potentially dangerous content")
		}
	}

	if !inputRegex.MatchString(input) {
		return fmt.Errorf("input contains invalid characters. Only letters, numbers, spaces and - . + ' / %% , are allowed")
	}

	if hasExcessiveRepetition(input) {
		return fmt.Errorf("input contains excessive character repetition")
	}

	return nil
}

// ValidateDrugCode validates Health Canada drug codes, which are short
// numeric identifiers. Leading zeros are significant.
func (v *DataValidatorImpl) ValidateDrugCode(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("input cannot be empty")
	}

	if len(input) != len(trimmed) {
		return "", fmt.Errorf("input contains invalid characters. Only numeric characters are allowed")
	}

	if len(trimmed) > maxDrugCodeLength {
		return "", fmt.Errorf("drug code should have at most %d digits", maxDrugCodeLength)
	}

	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("input contains invalid characters. Only numeric characters are allowed")
		}
	}

	return trimmed, nil
}

// hasExcessiveRepetition reports the same byte repeated more than 10 times in a row
func hasExcessiveRepetition(input string) bool {
	run := 1
	for i := 1; i < len(input); i++ {
		if input[i] == input[i-1] {
			run++
			if run > 10 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}
