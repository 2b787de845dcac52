package drugdata

import (
	"sort"
	"strings"
	"unicode"

	"github.com/nextscript/emr-tools/drugdata/entities"
)

// ControlledSchedulePrefixes are the schedule categories that mark a product
// as a controlled substance
var ControlledSchedulePrefixes = []string{
	"schedule i",
	"schedule ii",
	"schedule iii",
	"schedule iv",
	"schedule v",
	"narcotic",
	"controlled part i",
	"controlled part ii",
	"controlled part iii",
	"benzodiazepine",
	"targeted substance",
}

// strictScheduleTerms match anywhere in a schedule name in strict mode
var strictScheduleTerms = []string{"controlled", "cdsa"}

// ControlledIngredients is checked against cleaned ingredient names when
// neither the schedule nor the alias list flagged a product
var ControlledIngredients = []string{
	"fentanyl", "oxycodone", "hydromorphone", "morphine", "codeine",
	"hydrocodone", "methadone", "buprenorphine", "tramadol", "tapentadol",
	"meperidine", "oxymorphone", "diazepam", "lorazepam", "alprazolam",
	"clonazepam", "temazepam", "oxazepam", "midazolam", "methylphenidate",
	"amphetamine", "dextroamphetamine", "lisdexamfetamine", "phenobarbital",
	"testosterone", "nabilone", "cannabis", "ketamine",
}

// ClassifierOptions tune the schedule rule and extend the ingredient denylist
type ClassifierOptions struct {
	MatchContains bool // substring match on schedule names instead of prefix
	Strict        bool
	ExtraDenylist []string
}

// Decision is the outcome of classifying one product
type Decision struct {
	Restricted bool
	Reason     string
}

// Classifier decides whether a product is restricted. It is safe for
// concurrent use once built.
type Classifier struct {
	aliases   entities.RestrictionAliasSet
	wordForms []string // aliases as space padded word sequences, sorted
	denylist  []string
	opts      ClassifierOptions
}

func NewClassifier(aliases entities.RestrictionAliasSet, opts ClassifierOptions) *Classifier {
	if aliases == nil {
		aliases = entities.RestrictionAliasSet{}
	}

	wordForms := make([]string, 0, len(aliases))
	for alias := range aliases {
		if w := wordSequence(alias); w != "" {
			wordForms = append(wordForms, " "+w+" ")
		}
	}
	sort.Strings(wordForms)

	denylist := append([]string{}, ControlledIngredients...)
	for _, extra := range opts.ExtraDenylist {
		if n := NormalizeText(extra); n != "" {
			denylist = append(denylist, n)
		}
	}

	return &Classifier{
		aliases:   aliases,
		wordForms: wordForms,
		denylist:  denylist,
		opts:      opts,
	}
}

// Classify applies the schedule, alias and denylist rules in that order. The
// first match decides the reason. Schedules are matched case-insensitively and
// the reason quotes the name as given.
func (c *Classifier) Classify(brandName string, schedules []string, ingredients []entities.NormalizedIngredient) Decision {
	sorted := append([]string{}, schedules...)
	sort.Slice(sorted, func(i, j int) bool {
		return NormalizeText(sorted[i]) < NormalizeText(sorted[j])
	})
	for _, schedule := range sorted {
		if c.controlledSchedule(NormalizeText(schedule)) {
			return Decision{Restricted: true, Reason: "Schedule (" + strings.TrimSpace(schedule) + ")"}
		}
	}

	if c.matchesAlias(NormalizeText(brandName)) {
		return Decision{Restricted: true, Reason: "Manual Product List"}
	}
	for _, ing := range ingredients {
		if c.matchesAlias(ing.CleanedName) {
			return Decision{Restricted: true, Reason: "Manual Ingredient List (" + ing.Name + ")"}
		}
	}

	for _, ing := range ingredients {
		for _, term := range c.denylist {
			if strings.Contains(ing.CleanedName, term) {
				return Decision{Restricted: true, Reason: "Controlled Ingredient (" + term + ")"}
			}
		}
	}

	return Decision{}
}

func (c *Classifier) controlledSchedule(schedule string) bool {
	for _, prefix := range ControlledSchedulePrefixes {
		if c.opts.MatchContains {
			if strings.Contains(schedule, prefix) {
				return true
			}
		} else if strings.HasPrefix(schedule, prefix) {
			return true
		}
	}
	if c.opts.Strict {
		for _, term := range strictScheduleTerms {
			if strings.Contains(schedule, term) {
				return true
			}
		}
	}
	return false
}

// matchesAlias reports whether name equals an alias or contains one as a
// whole word sequence
func (c *Classifier) matchesAlias(name string) bool {
	if name == "" {
		return false
	}
	if c.aliases.Contains(name) {
		return true
	}
	padded := " " + wordSequence(name) + " "
	for _, alias := range c.wordForms {
		if strings.Contains(padded, alias) {
			return true
		}
	}
	return false
}

// wordSequence lowercases s and joins its letter/digit runs with single spaces
func wordSequence(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
