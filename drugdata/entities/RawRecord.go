package entities

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RawRecord is one row returned by the drug product API. Values keep their
// decoded JSON types, with numbers as json.Number.
type RawRecord map[string]any

// String returns the value for key as trimmed text. Missing keys and nulls
// give "".
func (r RawRecord) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Code returns the drug_code shared by all record kinds
func (r RawRecord) Code() string {
	return r.String("drug_code")
}
