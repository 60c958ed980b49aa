package normalizer

import (
	"sort"
	"strings"
	"time"

	"schemawatch/internal/types"
	"schemawatch/internal/validator"

	"go.uber.org/zap"
)

// typeVocabulary maps vendor type strings to canonical data types.
// Keys are compared after trimming and lower-casing.
var typeVocabulary = map[string]types.DataType{
	"string":    types.DataTypeString,
	"str":       types.DataTypeString,
	"text":      types.DataTypeString,
	"varchar":   types.DataTypeString,
	"char":      types.DataTypeString,
	"integer":   types.DataTypeInteger,
	"int":       types.DataTypeInteger,
	"number":    types.DataTypeInteger,
	"numeric":   types.DataTypeInteger,
	"long":      types.DataTypeInteger,
	"boolean":   types.DataTypeBoolean,
	"bool":      types.DataTypeBoolean,
	"flag":      types.DataTypeBoolean,
	"yes_no":    types.DataTypeBoolean,
	"enum":      types.DataTypeEnum,
	"select":    types.DataTypeEnum,
	"picklist":  types.DataTypeEnum,
	"valueset":  types.DataTypeEnum,
	"date":      types.DataTypeDate,
	"datetime":  types.DataTypeDate,
	"timestamp": types.DataTypeDate,
}

// dateLayouts are accepted formats for effective_from values
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
}

// Normalizer converts raw extraction payloads into canonical snapshots
type Normalizer struct {
	validator *validator.Validator
	logger    *zap.Logger
}

// New creates a new normalizer
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{
		validator: validator.New(),
		logger:    logger,
	}
}

// Normalize converts a raw schema into a canonical snapshot. It never
// fails on merely ambiguous input: unrecognized types fall back to
// string with a low-confidence flag, and duplicate derived ids keep the
// first occurrence. Empty or structurally unparseable input returns a
// NormalizationError.
func (n *Normalizer) Normalize(raw *types.RawSchema) (*types.Snapshot, error) {
	if raw == nil {
		return nil, &types.NormalizationError{SourceID: "", Reason: "nil payload"}
	}
	if raw.SourceID == "" {
		return nil, &types.NormalizationError{SourceID: raw.SourceID, Reason: "missing source_id"}
	}
	if len(raw.Fields) == 0 {
		return nil, &types.NormalizationError{SourceID: raw.SourceID, Reason: "empty field list"}
	}
	if err := n.validator.Struct(raw); err != nil {
		return nil, &types.NormalizationError{SourceID: raw.SourceID, Reason: err.Error()}
	}

	capturedAt := raw.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	snapshot := &types.Snapshot{
		SourceID:   raw.SourceID,
		CapturedAt: capturedAt,
		Attributes: make(map[string]*types.AttributeDefinition, len(raw.Fields)),
	}

	for i := range raw.Fields {
		field := &raw.Fields[i]
		if strings.TrimSpace(field.Name) == "" {
			return nil, &types.NormalizationError{
				SourceID: raw.SourceID,
				Reason:   "field with empty name",
			}
		}

		def := n.normalizeField(raw.SourceID, field)

		// Duplicate derived ids keep the first occurrence
		if _, exists := snapshot.Attributes[def.AttributeID]; exists {
			snapshot.Conflicts = append(snapshot.Conflicts, def.AttributeID)
			n.logger.Warn("Duplicate attribute id in raw schema",
				zap.String("source_id", raw.SourceID),
				zap.String("attribute_id", def.AttributeID))
			continue
		}

		snapshot.Attributes[def.AttributeID] = def
	}

	sort.Strings(snapshot.Conflicts)
	return snapshot, nil
}

// normalizeField converts one raw field descriptor
func (n *Normalizer) normalizeField(sourceID string, field *types.RawField) *types.AttributeDefinition {
	def := &types.AttributeDefinition{
		AttributeID:     DeriveAttributeID(field.AttributeID, field.Name),
		Name:            strings.TrimSpace(field.Name),
		MaxLength:       field.MaxLength,
		ConditionalRule: strings.TrimSpace(field.RawConstraints),
	}

	if field.Required != nil {
		def.Required = *field.Required
	}

	def.DataType = mapDataType(field.RawType)
	if def.DataType == "" {
		def.DataType = types.DataTypeString
		def.LowConfidence = true
		n.logger.Debug("Unrecognized raw type, falling back to string",
			zap.String("source_id", sourceID),
			zap.String("attribute_id", def.AttributeID),
			zap.String("raw_type", field.RawType))
	}

	// A value list forces enum; a non-enum type drops the list to keep
	// the allowed-values invariant.
	if len(field.AllowedValues) > 0 {
		def.DataType = types.DataTypeEnum
		def.AllowedValues = normalizeValues(field.AllowedValues)
	} else if def.DataType == types.DataTypeEnum {
		def.AllowedValues = nil
	}

	if field.EffectiveFrom != "" {
		if t, ok := parseDate(field.EffectiveFrom); ok {
			def.EffectiveFrom = &t
		} else {
			def.LowConfidence = true
		}
	}

	return def
}

// DeriveAttributeID derives a stable attribute id. An explicit id wins;
// otherwise the id comes from the display name so the same logical
// field normalizes identically across runs.
func DeriveAttributeID(explicit, name string) string {
	id := strings.TrimSpace(explicit)
	if id == "" {
		id = strings.TrimSpace(name)
	}
	id = strings.ToLower(id)

	var b strings.Builder
	b.Grow(len(id))
	lastUnderscore := false
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}

// mapDataType maps a vendor type string to a canonical type.
// Returns "" when the vocabulary has no match.
func mapDataType(rawType string) types.DataType {
	key := strings.ToLower(strings.TrimSpace(rawType))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	// varchar(255) and friends
	if idx := strings.IndexByte(key, '('); idx > 0 {
		key = key[:idx]
	}

	return typeVocabulary[key]
}

// normalizeValues trims, deduplicates and sorts an allowed-value list
func normalizeValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// parseDate parses an effective date in any accepted layout
func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
