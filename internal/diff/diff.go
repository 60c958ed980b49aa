package diff

import (
	"sort"
	"time"

	"schemawatch/internal/types"
)

// Result represents the outcome of one diff pass
type Result struct {
	SourceID           string
	IsFirstObservation bool
	Changes            []*types.ChangeRecord
}

// Compare computes the structural changes between two snapshots of the
// same source. It is pure and deterministic: identical snapshot pairs
// always yield identical change sets, including change ids. Severity is
// left unset; the classifier fills it in.
//
// A nil previous snapshot models the first observation of a source:
// every attribute is emitted as added and the result is flagged so the
// classifier can treat the baseline as informational.
func Compare(previous, current *types.Snapshot, detectedAt time.Time) *Result {
	result := &Result{
		SourceID:           current.SourceID,
		IsFirstObservation: previous == nil,
	}

	for _, id := range sortedIDs(current.Attributes) {
		after := current.Attributes[id]
		if previous == nil {
			result.Changes = append(result.Changes,
				newRecord(current.SourceID, id, types.ChangeTypeAdded, nil, after, detectedAt))
			continue
		}

		before, existed := previous.Attributes[id]
		if !existed {
			result.Changes = append(result.Changes,
				newRecord(current.SourceID, id, types.ChangeTypeAdded, nil, after, detectedAt))
			continue
		}

		result.Changes = append(result.Changes,
			compareFields(current.SourceID, id, before, after, detectedAt)...)
	}

	if previous != nil {
		for _, id := range sortedIDs(previous.Attributes) {
			if _, stillThere := current.Attributes[id]; !stillThere {
				result.Changes = append(result.Changes,
					newRecord(current.SourceID, id, types.ChangeTypeRemoved, previous.Attributes[id], nil, detectedAt))
			}
		}
	}

	return result
}

// compareFields emits one record per changed field. An attribute whose
// required flag, type and length all changed in one capture produces
// three independent records, each with its own change id.
func compareFields(sourceID, attributeID string, before, after *types.AttributeDefinition, detectedAt time.Time) []*types.ChangeRecord {
	var changes []*types.ChangeRecord

	emit := func(ct types.ChangeType) {
		changes = append(changes, newRecord(sourceID, attributeID, ct, before, after, detectedAt))
	}

	if before.Required != after.Required {
		emit(types.ChangeTypeRequiredToggled)
	}
	if before.DataType != after.DataType {
		emit(types.ChangeTypeTypeChanged)
	}
	if !intPtrEqual(before.MaxLength, after.MaxLength) {
		emit(types.ChangeTypeLengthChanged)
	}
	if !valueSetEqual(before.AllowedValues, after.AllowedValues) {
		emit(types.ChangeTypeValuesChanged)
	}
	if !timePtrEqual(before.EffectiveFrom, after.EffectiveFrom) {
		emit(types.ChangeTypeEffectiveChanged)
	}

	return changes
}

// newRecord builds a candidate ledger record in the new state
func newRecord(sourceID, attributeID string, ct types.ChangeType, before, after *types.AttributeDefinition, detectedAt time.Time) *types.ChangeRecord {
	beforeFP := before.Fingerprint()
	afterFP := after.Fingerprint()

	return &types.ChangeRecord{
		ChangeID:          types.ComputeChangeID(sourceID, attributeID, ct, beforeFP, afterFP),
		SourceID:          sourceID,
		AttributeID:       attributeID,
		ChangeType:        ct,
		Before:            before,
		After:             after,
		BeforeFingerprint: beforeFP,
		AfterFingerprint:  afterFP,
		DetectedAt:        detectedAt,
		Status:            types.StatusNew,
	}
}

// sortedIDs returns map keys in a stable order
func sortedIDs(attrs map[string]*types.AttributeDefinition) []string {
	ids := make([]string, 0, len(attrs))
	for id := range attrs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// intPtrEqual is a null-safe integer comparison: absent-vs-present
// counts as a difference, absent-vs-absent does not.
func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// timePtrEqual is a null-safe timestamp comparison
func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// valueSetEqual compares allowed-value lists as sets
func valueSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
