package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		from    ChangeStatus
		to      ChangeStatus
		allowed bool
	}{
		{StatusNew, StatusTriaged, true},
		{StatusTriaged, StatusInProgress, true},
		{StatusInProgress, StatusUpdated, true},
		{StatusUpdated, StatusVerified, true},
		{StatusVerified, StatusClosed, true},

		// Closed is reachable from anywhere except itself
		{StatusNew, StatusClosed, true},
		{StatusInProgress, StatusClosed, true},
		{StatusClosed, StatusClosed, false},

		// No skipping forward
		{StatusNew, StatusInProgress, false},
		{StatusTriaged, StatusVerified, false},

		// No moving backward
		{StatusTriaged, StatusNew, false},
		{StatusVerified, StatusUpdated, false},
		{StatusClosed, StatusNew, false},

		// Unknown states never transition
		{"archived", StatusClosed, false},
		{StatusNew, "archived", false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusVerified.IsTerminal())
	assert.True(t, StatusClosed.IsTerminal())
	assert.False(t, StatusNew.IsTerminal())
	assert.False(t, StatusUpdated.IsTerminal())
}

func TestComputeChangeID(t *testing.T) {
	id := ComputeChangeID("marketplace-a", "brand", ChangeTypeTypeChanged, "fp1", "fp2")

	// Deterministic
	assert.Equal(t, id, ComputeChangeID("marketplace-a", "brand", ChangeTypeTypeChanged, "fp1", "fp2"))
	assert.Len(t, id, 64)

	// Any component change produces a different id
	assert.NotEqual(t, id, ComputeChangeID("marketplace-b", "brand", ChangeTypeTypeChanged, "fp1", "fp2"))
	assert.NotEqual(t, id, ComputeChangeID("marketplace-a", "color", ChangeTypeTypeChanged, "fp1", "fp2"))
	assert.NotEqual(t, id, ComputeChangeID("marketplace-a", "brand", ChangeTypeValuesChanged, "fp1", "fp2"))
	assert.NotEqual(t, id, ComputeChangeID("marketplace-a", "brand", ChangeTypeTypeChanged, "fp1", "fp3"))
}

func TestChangeSummary(t *testing.T) {
	testCases := []struct {
		name     string
		change   *ChangeRecord
		expected string
	}{
		{
			name: "required addition",
			change: &ChangeRecord{
				SourceID:    "marketplace-a",
				AttributeID: "brand",
				ChangeType:  ChangeTypeAdded,
				After:       &AttributeDefinition{Required: true},
			},
			expected: "marketplace-a: brand added (required)",
		},
		{
			name: "removal of required attribute",
			change: &ChangeRecord{
				SourceID:    "marketplace-a",
				AttributeID: "brand",
				ChangeType:  ChangeTypeRemoved,
				Before:      &AttributeDefinition{Required: true},
			},
			expected: "marketplace-a: brand removed (was required)",
		},
		{
			name: "type change",
			change: &ChangeRecord{
				SourceID:    "marketplace-a",
				AttributeID: "weight",
				ChangeType:  ChangeTypeTypeChanged,
				Before:      &AttributeDefinition{DataType: DataTypeString},
				After:       &AttributeDefinition{DataType: DataTypeInteger},
			},
			expected: "marketplace-a: weight type string -> integer",
		},
		{
			name: "became required",
			change: &ChangeRecord{
				SourceID:    "marketplace-a",
				AttributeID: "brand",
				ChangeType:  ChangeTypeRequiredToggled,
				After:       &AttributeDefinition{Required: true},
			},
			expected: "marketplace-a: brand became required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.change.Summary())
		})
	}
}
