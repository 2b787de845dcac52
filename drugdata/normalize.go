package drugdata

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var parenthetical = regexp.MustCompile(`\([^()]*\)`)

// NormalizeText trims and lowercases s
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CleanIngredientName removes every parenthetical qualifier, collapses
// whitespace and lowercases. "Acetaminophen (as acetaminophen anhydrous)"
// becomes "acetaminophen".
func CleanIngredientName(s string) string {
	for {
		stripped := parenthetical.ReplaceAllString(s, " ")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeStrength renders numeric strengths without trailing zeros ("5.0"
// gives "5", "2.50" gives "2.5"). Exponent forms and anything else are
// returned trimmed.
func NormalizeStrength(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE") {
		return s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.String()
}

// FoldForSearch lowercases s and strips diacritics so "Lévothyroxine" matches
// "levothyroxine"
func FoldForSearch(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// NormalizeIngredient builds a NormalizedIngredient from an active ingredient
// record. ok is false when the record has no code or no usable name.
func NormalizeIngredient(r entities.RawRecord) (entities.NormalizedIngredient, bool) {
	code := r.Code()
	name := r.String("ingredient_name")
	cleaned := CleanIngredientName(name)
	if code == "" || cleaned == "" {
		return entities.NormalizedIngredient{}, false
	}
	unit := r.String("strength_unit")
	return entities.NormalizedIngredient{
		Code:           code,
		Name:           name,
		CleanedName:    cleaned,
		Strength:       NormalizeStrength(r.String("strength")),
		Unit:           unit,
		NormalizedUnit: strings.ToLower(unit),
	}, true
}

// NormalizeForm builds a NormalizedForm from a form record
func NormalizeForm(r entities.RawRecord) (entities.NormalizedForm, bool) {
	code := r.Code()
	name := r.String("pharmaceutical_form_name")
	if code == "" || name == "" {
		return entities.NormalizedForm{}, false
	}
	return entities.NormalizedForm{
		Code:       code,
		Name:       name,
		Normalized: NormalizeText(name),
	}, true
}
