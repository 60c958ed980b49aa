package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// DataType represents the canonical data type of an attribute
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeInteger DataType = "integer"
	DataTypeBoolean DataType = "boolean"
	DataTypeEnum    DataType = "enum"
	DataTypeDate    DataType = "date"
)

// IsValid checks if the data type is one of the canonical types
func (d DataType) IsValid() bool {
	switch d {
	case DataTypeString, DataTypeInteger, DataTypeBoolean, DataTypeEnum, DataTypeDate:
		return true
	}
	return false
}

// AttributeDefinition represents one schema field of one source at one point in time
type AttributeDefinition struct {
	AttributeID     string     `json:"attribute_id"`
	Name            string     `json:"name"`
	DataType        DataType   `json:"data_type"`
	Required        bool       `json:"required"`
	MaxLength       *int       `json:"max_length,omitempty"`
	AllowedValues   []string   `json:"allowed_values,omitempty"`
	ConditionalRule string     `json:"conditional_rule,omitempty"`
	EffectiveFrom   *time.Time `json:"effective_from,omitempty"`

	// LowConfidence marks definitions whose raw type vocabulary
	// was not recognized and fell back to string.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// fingerprintView is the canonical shape hashed by Fingerprint.
// AllowedValues are sorted so set semantics survive hashing.
type fingerprintView struct {
	AttributeID     string   `json:"attribute_id"`
	Name            string   `json:"name"`
	DataType        DataType `json:"data_type"`
	Required        bool     `json:"required"`
	MaxLength       *int     `json:"max_length,omitempty"`
	AllowedValues   []string `json:"allowed_values,omitempty"`
	ConditionalRule string   `json:"conditional_rule,omitempty"`
	EffectiveFrom   string   `json:"effective_from,omitempty"`
}

// Fingerprint returns a stable content hash of the definition.
// A nil definition hashes to the empty string, which models the
// absent side of an added/removed change.
func (a *AttributeDefinition) Fingerprint() string {
	if a == nil {
		return ""
	}

	view := fingerprintView{
		AttributeID:     a.AttributeID,
		Name:            a.Name,
		DataType:        a.DataType,
		Required:        a.Required,
		MaxLength:       a.MaxLength,
		ConditionalRule: a.ConditionalRule,
	}

	if len(a.AllowedValues) > 0 {
		view.AllowedValues = append([]string(nil), a.AllowedValues...)
		sort.Strings(view.AllowedValues)
	}

	if a.EffectiveFrom != nil {
		view.EffectiveFrom = a.EffectiveFrom.UTC().Format(time.RFC3339)
	}

	data, _ := json.Marshal(view)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Snapshot represents the full attribute set of one source at one observation time
type Snapshot struct {
	SourceID   string                          `json:"source_id"`
	CapturedAt time.Time                       `json:"captured_at"`
	Attributes map[string]*AttributeDefinition `json:"attributes"`

	// Conflicts lists derived attribute ids that collided during
	// normalization; the first occurrence won.
	Conflicts []string `json:"conflicts,omitempty"`
}

// RawField represents one field descriptor from the extraction collaborator
type RawField struct {
	Name           string   `json:"name" validate:"required"`
	AttributeID    string   `json:"attribute_id,omitempty"`
	RawType        string   `json:"raw_type"`
	Required       *bool    `json:"required,omitempty"`
	MaxLength      *int     `json:"max_length,omitempty" validate:"omitempty,gte=0"`
	AllowedValues  []string `json:"allowed_values,omitempty"`
	RawConstraints string   `json:"raw_constraints,omitempty"`
	EffectiveFrom  string   `json:"effective_from,omitempty"`
}

// RawSchema represents one extraction payload for one source
type RawSchema struct {
	SourceID   string     `json:"source_id" validate:"required"`
	CapturedAt time.Time  `json:"captured_at" validate:"required"`
	Fields     []RawField `json:"fields"`
}
