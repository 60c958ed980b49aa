package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttributeFingerprint(t *testing.T) {
	ten := 10
	base := &AttributeDefinition{
		AttributeID:   "size",
		Name:          "Size",
		DataType:      DataTypeEnum,
		Required:      true,
		MaxLength:     &ten,
		AllowedValues: []string{"L", "M", "S"},
	}

	// Value order does not affect the fingerprint
	reordered := *base
	reordered.AllowedValues = []string{"S", "L", "M"}
	assert.Equal(t, base.Fingerprint(), reordered.Fingerprint())

	// Any material field does
	required := *base
	required.Required = false
	assert.NotEqual(t, base.Fingerprint(), required.Fingerprint())

	typed := *base
	typed.DataType = DataTypeString
	assert.NotEqual(t, base.Fingerprint(), typed.Fingerprint())

	// Nil definition has a stable sentinel fingerprint
	var none *AttributeDefinition
	assert.Equal(t, none.Fingerprint(), none.Fingerprint())
	assert.NotEqual(t, none.Fingerprint(), base.Fingerprint())
}

func TestAttributeFingerprintEffectiveFrom(t *testing.T) {
	sept := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	a := &AttributeDefinition{AttributeID: "a", DataType: DataTypeString}
	b := &AttributeDefinition{AttributeID: "a", DataType: DataTypeString, EffectiveFrom: &sept}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	// Same instant in another zone fingerprints identically
	loc := time.FixedZone("plus2", 2*3600)
	shifted := sept.In(loc)
	c := &AttributeDefinition{AttributeID: "a", DataType: DataTypeString, EffectiveFrom: &shifted}
	assert.Equal(t, b.Fingerprint(), c.Fingerprint())
}

func TestDataTypeIsValid(t *testing.T) {
	assert.True(t, DataTypeString.IsValid())
	assert.True(t, DataTypeEnum.IsValid())
	assert.False(t, DataType("decimal").IsValid())
}
