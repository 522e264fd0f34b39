// Package lookup resolves raw source field values against dataset-declared
// mapping tables.
//
// Tables are declarative: each carries a list of options mapping one or more
// raw values onto a normalized value. Resolution is a pure function of the
// table; there is no persistent state. Two entry points exist: GetValue never
// fails (it falls back to a caller default), while Match surfaces a structured
// UnmatchedValueError that the run lifecycle controller treats as a recovered
// data-quality failure rather than a crash.
package lookup

import (
	"fmt"
	"strings"
)

// UnmatchedValueError reports a raw value that no option of a mapping table
// matched. It carries the table name and the offending value so the failure
// can be logged and recorded as a dataset issue.
type UnmatchedValueError struct {
	Table string
	Value string
}

func (e *UnmatchedValueError) Error() string {
	return fmt.Sprintf("no lookup rule in table %q matches value %q", e.Table, e.Value)
}

type (
	// Option is a single mapping rule: any raw value in Match resolves to Value.
	Option struct {
		Match []string `yaml:"match"`
		Value string   `yaml:"value"`
	}

	// Table is a named set of mapping rules declared in dataset configuration.
	//
	// When Normalize is set, raw values and match candidates are compared
	// case-insensitively with surrounding whitespace ignored. Default, when
	// non-nil, is returned by Match for unmatched values instead of an error.
	Table struct {
		Name      string   `yaml:"-"`
		Normalize bool     `yaml:"normalize"`
		Default   *string  `yaml:"default"`
		Options   []Option `yaml:"options"`
	}
)

func (t *Table) normalize(value string) string {
	if !t.Normalize {
		return value
	}

	return strings.ToLower(strings.TrimSpace(value))
}

// Match resolves a raw value against the table's options. When no option
// matches, the table-level default is returned if declared; otherwise the
// call fails with *UnmatchedValueError.
func (t *Table) Match(raw string) (string, error) {
	needle := t.normalize(raw)

	for _, opt := range t.Options {
		for _, candidate := range opt.Match {
			if t.normalize(candidate) == needle {
				return opt.Value, nil
			}
		}
	}

	if t.Default != nil {
		return *t.Default, nil
	}

	return "", &UnmatchedValueError{Table: t.Name, Value: raw}
}

// GetValue resolves a raw value like Match but never fails: unmatched values
// resolve to the caller-supplied default.
func (t *Table) GetValue(raw, defaultValue string) string {
	value, err := t.Match(raw)
	if err != nil {
		return defaultValue
	}

	return value
}
