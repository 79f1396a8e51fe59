package models

import (
	"errors"
	"fmt"
	"strconv"
)

// ValueType is the closed set of casts a file-regex variable may apply to
// its captured group.
type ValueType string

const (
	ValueTypeString ValueType = "string"
	ValueTypeInt    ValueType = "int"
	ValueTypeFloat  ValueType = "float"
	ValueTypeBool   ValueType = "bool"
)

var ErrInvalidValueType = errors.New("invalid value type")

// Cast validates raw against the type and returns its canonical string
// form. Values stay strings end-to-end; the cast normalizes and rejects.
func (t ValueType) Cast(raw string) (string, error) {
	switch t {
	case ValueTypeString, "":
		return raw, nil
	case ValueTypeInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("cannot cast %q to int: %w", raw, err)
		}

		return strconv.Itoa(n), nil
	case ValueTypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("cannot cast %q to float: %w", raw, err)
		}

		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case ValueTypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return "", fmt.Errorf("cannot cast %q to bool: %w", raw, err)
		}

		return strconv.FormatBool(b), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidValueType, string(t))
	}
}

// FileRegex discovers a variable's base values at runtime by matching
// filenames in the group working directory, or directory paths under it
// when MatchDirs is set.
type FileRegex struct {
	Pattern string    `json:"pattern" yaml:"pattern" validate:"required"`
	Group   int       `json:"group"   yaml:"group"   validate:"gte=0"`
	Type    ValueType `json:"type"    yaml:"type"`

	// MatchDirs matches the pattern against directory paths relative to
	// the working directory instead of plain filenames.
	MatchDirs bool `json:"match_dirs,omitempty" yaml:"match_dirs,omitempty"`

	// Subset keeps only the listed values after matching.
	Subset []string `json:"subset,omitempty" yaml:"subset,omitempty"`

	// ExpectedMultiplicity lets submit-time planning size the task vector
	// before the directory exists. Zero means unknown (deferred).
	ExpectedMultiplicity int `json:"expected_multiplicity,omitempty" yaml:"expected_multiplicity,omitempty"`
}

// DefaultValueTemplate formats a base value verbatim.
const DefaultValueTemplate = "{:s}"

// VariableDefinition is one named variable owned by a workflow. Exactly
// one of Data or FileRegex may be set; with neither, the variable is
// sourced by templating alone and has a single value row.
type VariableDefinition struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	WorkflowID uint `gorm:"index"      json:"workflow_id"`

	Name string `gorm:"not null;index" json:"name" validate:"required"`

	// Data carries the literal ordered base values of the data variant.
	Data []string `gorm:"serializer:json" json:"data,omitempty"`

	// FileRegex marks the file-regex variant.
	FileRegex *FileRegex `gorm:"serializer:json" json:"file_regex,omitempty"`

	// Value is the format template, defaulting to "{:s}". It may embed
	// <<name>> references to other variables and must carry at least one
	// positional specifier when base values exist.
	Value string `gorm:"not null" json:"value"`
}

// Template returns the value template with the default applied.
func (v *VariableDefinition) Template() string {
	if v.Value == "" {
		return DefaultValueTemplate
	}

	return v.Value
}

// IsFileRegex reports whether base values come from a directory scan.
func (v *VariableDefinition) IsFileRegex() bool {
	return v.FileRegex != nil
}
