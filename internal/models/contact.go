package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Required contact columns. They are always exposed to templates in
// lowercase regardless of how the source spreadsheet spells them.
const (
	KeyEmail      = "email"
	KeyTratamento = "tratamento"
	KeyNome       = "nome"
)

// RequiredKeys lists the columns every contact must provide.
var RequiredKeys = []string{KeyEmail, KeyTratamento, KeyNome}

// IsRequiredKey reports whether name matches a required column,
// ignoring case and surrounding whitespace.
func IsRequiredKey(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, key := range RequiredKeys {
		if key == lower {
			return true
		}
	}
	return false
}

// ContactRecord maps a column name to a scalar cell value (string, number or
// nil for empty cells).
type ContactRecord map[string]any

// Lookup returns the value of the column matching name case-insensitively.
// An exact match wins over a case-folded one.
func (r ContactRecord) Lookup(name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return v, true
		}
	}
	return nil, false
}

// String returns the stringified value of the column matching name, or "".
func (r ContactRecord) String(name string) string {
	v, _ := r.Lookup(name)
	return FormatValue(v)
}

// MissingRequired returns the required keys that are absent or blank.
func (r ContactRecord) MissingRequired() []string {
	var missing []string
	for _, key := range RequiredKeys {
		v, ok := r.Lookup(key)
		if !ok || strings.TrimSpace(FormatValue(v)) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// FormatValue renders a scalar cell value the way templates see it. Integral
// floats lose their trailing ".0" so spreadsheet numbers read naturally.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if math.IsNaN(val) {
			return ""
		}
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return FormatValue(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	case interface{ String() string }:
		return val.String()
	default:
		return ""
	}
}
