package catalog

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Normalize converts Go values (ints, []string, typed maps) into the generic
// JSON shapes produced by decoding, so values from code and values from the
// wire compare and encode the same way.
func Normalize(v any) any {
	switch value := v.(type) {
	case nil, string, bool, json.Number:
		return value
	case float64:
		return json.Number(formatFloat(value))
	case float32:
		return json.Number(formatFloat(float64(value)))
	case int:
		return json.Number(strconv.Itoa(value))
	case int64:
		return json.Number(strconv.FormatInt(value, 10))
	case int32:
		return json.Number(strconv.FormatInt(int64(value), 10))
	case []any:
		out := make([]any, len(value))
		for i, elem := range value {
			out[i] = Normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, elem := range value {
			out[k] = Normalize(elem)
		}
		return out
	case []string:
		out := make([]any, len(value))
		for i, elem := range value {
			out[i] = elem
		}
		return out
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return v
	}
	return generic
}

// Equal compares two JSON values structurally. Absent and null are equal,
// numbers compare by value ("1984" as a number equals 1984.0).
func Equal(a, b any) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	if an, ok := Number(a); ok {
		if _, isString := b.(string); isString {
			return false
		}
		bn, ok := Number(b)
		return ok && an == bn
	}
	return bytes.Equal(canonical(a), canonical(b))
}

// IsNull reports whether v is JSON null.
func IsNull(v any) bool {
	return v == nil
}

// Number returns the numeric value of v when v is a JSON number.
func Number(v any) (float64, bool) {
	switch value := v.(type) {
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case int32:
		return float64(value), true
	}
	return 0, false
}

// Stringify renders v the way a text cell shows it: arrays are comma
// joined, null is empty.
func Stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case json.Number:
		return value.String()
	case []any:
		parts := make([]string, len(value))
		for i, elem := range value {
			parts[i] = Stringify(elem)
		}
		return strings.Join(parts, ",")
	}
	if n, ok := Number(v); ok {
		return formatFloat(n)
	}
	return string(canonical(v))
}

// Flatten returns the searchable text fragments of v, descending into arrays.
func Flatten(v any) []string {
	switch value := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, elem := range value {
			out = append(out, Flatten(elem)...)
		}
		return out
	case map[string]any:
		var out []string
		for _, elem := range value {
			out = append(out, Flatten(elem)...)
		}
		return out
	}
	return []string{Stringify(v)}
}

func canonical(v any) []byte {
	encoded, err := json.Marshal(canonicalValue(Normalize(v)))
	if err != nil {
		return nil
	}
	return encoded
}

func canonicalValue(v any) any {
	switch value := v.(type) {
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case []any:
		out := make([]any, len(value))
		for i, elem := range value {
			out[i] = canonicalValue(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, elem := range value {
			out[k] = canonicalValue(elem)
		}
		return out
	}
	return v
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case []any:
		out := make([]any, len(value))
		for i, elem := range value {
			out[i] = cloneValue(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, elem := range value {
			out[k] = cloneValue(elem)
		}
		return out
	}
	return v
}

func formatFloat(f float64) string {
	if math.Trunc(f) == f && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
