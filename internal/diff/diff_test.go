package diff

import (
	"testing"
	"time"

	"schemawatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(sourceID string, defs ...*types.AttributeDefinition) *types.Snapshot {
	s := &types.Snapshot{
		SourceID:   sourceID,
		CapturedAt: time.Now().UTC(),
		Attributes: make(map[string]*types.AttributeDefinition, len(defs)),
	}
	for _, def := range defs {
		s.Attributes[def.AttributeID] = def
	}
	return s
}

func attr(id string, dt types.DataType, required bool) *types.AttributeDefinition {
	return &types.AttributeDefinition{
		AttributeID: id,
		Name:        id,
		DataType:    dt,
		Required:    required,
	}
}

func TestCompareFirstObservation(t *testing.T) {
	current := snapshot("marketplace-a",
		attr("brand", types.DataTypeString, true),
		attr("weight", types.DataTypeInteger, false))

	result := Compare(nil, current, time.Now().UTC())

	assert.True(t, result.IsFirstObservation)
	require.Len(t, result.Changes, 2)
	for _, change := range result.Changes {
		assert.Equal(t, types.ChangeTypeAdded, change.ChangeType)
		assert.Nil(t, change.Before)
		assert.NotNil(t, change.After)
		assert.Equal(t, types.StatusNew, change.Status)
	}
	// Stable ordering by attribute id
	assert.Equal(t, "brand", result.Changes[0].AttributeID)
	assert.Equal(t, "weight", result.Changes[1].AttributeID)
}

func TestCompareAddedAndRemoved(t *testing.T) {
	previous := snapshot("marketplace-a",
		attr("brand", types.DataTypeString, true),
		attr("legacy", types.DataTypeString, true))
	current := snapshot("marketplace-a",
		attr("brand", types.DataTypeString, true),
		attr("color", types.DataTypeString, false))

	result := Compare(previous, current, time.Now().UTC())

	assert.False(t, result.IsFirstObservation)
	require.Len(t, result.Changes, 2)

	added := result.Changes[0]
	assert.Equal(t, types.ChangeTypeAdded, added.ChangeType)
	assert.Equal(t, "color", added.AttributeID)

	removed := result.Changes[1]
	assert.Equal(t, types.ChangeTypeRemoved, removed.ChangeType)
	assert.Equal(t, "legacy", removed.AttributeID)
	assert.NotNil(t, removed.Before)
	assert.Nil(t, removed.After)
}

func TestCompareFieldLevelChanges(t *testing.T) {
	ten, twenty := 10, 20
	sept := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		before   *types.AttributeDefinition
		after    *types.AttributeDefinition
		expected []types.ChangeType
	}{
		{
			name:     "required toggled",
			before:   attr("a", types.DataTypeString, false),
			after:    attr("a", types.DataTypeString, true),
			expected: []types.ChangeType{types.ChangeTypeRequiredToggled},
		},
		{
			name:     "type changed",
			before:   attr("a", types.DataTypeString, false),
			after:    attr("a", types.DataTypeInteger, false),
			expected: []types.ChangeType{types.ChangeTypeTypeChanged},
		},
		{
			name: "length changed",
			before: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeString, MaxLength: &twenty},
			after: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeString, MaxLength: &ten},
			expected: []types.ChangeType{types.ChangeTypeLengthChanged},
		},
		{
			name: "length appeared",
			before: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeString},
			after: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeString, MaxLength: &ten},
			expected: []types.ChangeType{types.ChangeTypeLengthChanged},
		},
		{
			name: "values changed",
			before: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeEnum, AllowedValues: []string{"x", "y"}},
			after: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeEnum, AllowedValues: []string{"x"}},
			expected: []types.ChangeType{types.ChangeTypeValuesChanged},
		},
		{
			name: "values reordered is no change",
			before: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeEnum, AllowedValues: []string{"x", "y"}},
			after: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeEnum, AllowedValues: []string{"y", "x"}},
			expected: nil,
		},
		{
			name: "effective date changed",
			before: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeString},
			after: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeString, EffectiveFrom: &sept},
			expected: []types.ChangeType{types.ChangeTypeEffectiveChanged},
		},
		{
			name: "multiple changes emit independent records",
			before: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeString, Required: false, MaxLength: &twenty},
			after: &types.AttributeDefinition{
				AttributeID: "a", DataType: types.DataTypeInteger, Required: true, MaxLength: &ten},
			expected: []types.ChangeType{
				types.ChangeTypeRequiredToggled,
				types.ChangeTypeTypeChanged,
				types.ChangeTypeLengthChanged,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Compare(
				snapshot("marketplace-a", tc.before),
				snapshot("marketplace-a", tc.after),
				time.Now().UTC())

			var got []types.ChangeType
			for _, change := range result.Changes {
				got = append(got, change.ChangeType)
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestCompareIsDeterministic(t *testing.T) {
	previous := snapshot("marketplace-a", attr("brand", types.DataTypeString, false))
	current := snapshot("marketplace-a", attr("brand", types.DataTypeString, true))
	detectedAt := time.Now().UTC()

	first := Compare(previous, current, detectedAt)
	second := Compare(previous, current, detectedAt.Add(time.Hour))

	require.Len(t, first.Changes, 1)
	require.Len(t, second.Changes, 1)

	// Identical content yields the identical change id regardless of
	// when the change was detected.
	assert.Equal(t, first.Changes[0].ChangeID, second.Changes[0].ChangeID)
}

func TestCompareIdenticalSnapshotsYieldNothing(t *testing.T) {
	previous := snapshot("marketplace-a", attr("brand", types.DataTypeString, true))
	current := snapshot("marketplace-a", attr("brand", types.DataTypeString, true))

	result := Compare(previous, current, time.Now().UTC())
	assert.Empty(t, result.Changes)
}
