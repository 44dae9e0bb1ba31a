package certificates

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Mapping binds template variables to data-source column names.
// An empty column name means the variable is unmapped.
type Mapping map[string]string

// Clone returns a copy of the mapping, preserving nil.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Column returns the bound column of a variable and whether it is mapped.
func (m Mapping) Column(variable string) (string, bool) {
	column, ok := m[variable]
	return column, ok && column != ""
}

// MarshalJSON encodes unmapped variables as null.
func (m Mapping) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		if v == "" {
			out[k] = nil
			continue
		}
		column := v
		out[k] = &column
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes null values as unmapped.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(Mapping, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = *v
	}
	*m = out
	return nil
}

// NormalizeName folds case and strips everything that is not a letter or digit,
// so "E-mail" and "email" compare equal.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveMapping binds variables to columns.
//
// A previous binding is kept as long as both the variable and its column still
// exist; the column name is not re-checked against the variable name. Every other
// variable, in variables order, takes the first still-unclaimed column (in columns
// order) whose normalized name equals its own, or stays unmapped. Variables that
// disappeared are dropped, so the result's key set is exactly variables.
func ResolveMapping(variables, columns []string, previous Mapping) Mapping {
	existing := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		existing[column] = struct{}{}
	}

	result := make(Mapping, len(variables))
	claimed := make(map[string]struct{}, len(columns))
	// Every previous binding to a surviving column stays out of the auto-map
	// pool, including bindings of variables that are being dropped.
	for _, column := range previous {
		if column == "" {
			continue
		}
		if _, ok := existing[column]; !ok {
			continue
		}
		claimed[column] = struct{}{}
	}

	var unresolved []string
	kept := make(map[string]struct{}, len(variables))
	seen := make(map[string]struct{}, len(variables))
	for _, variable := range variables {
		if _, dup := seen[variable]; dup {
			continue
		}
		seen[variable] = struct{}{}
		if column, ok := previous.Column(variable); ok {
			_, exists := existing[column]
			_, dup := kept[column]
			if exists && !dup {
				result[variable] = column
				kept[column] = struct{}{}
				continue
			}
		}
		unresolved = append(unresolved, variable)
	}

	for _, variable := range unresolved {
		result[variable] = ""
		key := NormalizeName(variable)
		if key == "" {
			continue
		}
		for _, column := range columns {
			if _, taken := claimed[column]; taken {
				continue
			}
			if NormalizeName(column) == key {
				result[variable] = column
				claimed[column] = struct{}{}
				break
			}
		}
	}
	return result
}

// NullMapping keeps the keys of m and clears every binding.
func NullMapping(m Mapping) Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for k := range m {
		out[k] = ""
	}
	return out
}
