// Package tabular is the spreadsheet view of the catalog: a per-cell change
// ledger with a validation gate, a debounced auto-save and a background
// fingerprint monitor for remote changes.
package tabular

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"audiolibri/api/internal/catalog"
)

// ParseValue turns the text typed into a cell into a JSON value for column.
func ParseValue(column catalog.Field, raw string) any {
	if raw == "" || raw == "null" {
		return nil
	}

	switch column {
	case catalog.FieldProcessed:
		return raw == "true"
	case catalog.FieldRealPublishedYear, catalog.FieldViewCount, catalog.FieldLikeCount, catalog.FieldDuration:
		if n, ok := parseNumber(raw); ok {
			return n
		}
		return raw
	case catalog.FieldCategories, catalog.FieldTags:
		parts := strings.Split(raw, ",")
		out := make([]any, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, ok := parseNumber(raw); ok {
		return n
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err == nil && !dec.More() {
		return catalog.Normalize(generic)
	}
	return raw
}

func parseNumber(raw string) (any, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return catalog.Normalize(f), true
}
