package drugdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/logging"
)

// LoadRestrictedAliases reads the restricted drug list at path. Accepted
// layouts, all flattened into one set of normalized names:
//
//	[{"name": "...", "aliases": ["..."]}]
//	["...", "..."]
//	{"products": [...], "ingredients": [...]}
//	{"schedule i": [...], "schedule ii": [...]}
//
// A missing file gives an empty set. A malformed file gives whatever was
// collected plus an error; callers log it and carry on.
func LoadRestrictedAliases(path string) (entities.RestrictionAliasSet, error) {
	aliases := entities.RestrictionAliasSet{}

	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Restricted drug file not found, restriction checks will be limited", "path", path)
		return aliases, nil
	}
	if err != nil {
		return aliases, fmt.Errorf("failed to read restricted drug file %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		return aliases, fmt.Errorf("failed to parse restricted drug file %s: %w", path, err)
	}

	switch v := doc.(type) {
	case []any:
		collectAliases(aliases, v)
	case map[string]any:
		products, hasProducts := v["products"]
		ingredients, hasIngredients := v["ingredients"]
		if hasProducts || hasIngredients {
			collectAliases(aliases, products)
			collectAliases(aliases, ingredients)
			break
		}
		for _, group := range v {
			if list, ok := group.([]any); ok {
				collectAliases(aliases, list)
			}
		}
	default:
		return aliases, fmt.Errorf("unexpected layout in restricted drug file %s: %T", path, doc)
	}

	logging.Info("Loaded restricted aliases", "path", path, "count", len(aliases))
	return aliases, nil
}

// collectAliases adds strings, and the name and aliases of objects, found in v
func collectAliases(aliases entities.RestrictionAliasSet, v any) {
	switch item := v.(type) {
	case string:
		aliases.Add(NormalizeText(item))
	case []any:
		for _, elem := range item {
			collectAliases(aliases, elem)
		}
	case map[string]any:
		collectAliases(aliases, item["name"])
		collectAliases(aliases, item["aliases"])
	}
}
