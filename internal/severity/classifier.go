package severity

import (
	"fmt"

	"schemawatch/internal/types"
)

// Rule represents one predicate/result pair in the severity table.
// All set conditions must hold for the rule to match; rules are
// evaluated top-to-bottom and the first match wins. The table is plain
// data so operators can retune policy from configuration without a
// rebuild.
type Rule struct {
	FirstObservation *bool              `json:"first_observation,omitempty" mapstructure:"first_observation"`
	ChangeTypes      []types.ChangeType `json:"change_types,omitempty" mapstructure:"change_types"`
	BeforeRequired   *bool              `json:"before_required,omitempty" mapstructure:"before_required"`
	AfterRequired    *bool              `json:"after_required,omitempty" mapstructure:"after_required"`
	LengthDecreased  *bool              `json:"length_decreased,omitempty" mapstructure:"length_decreased"`
	Severity         types.Severity     `json:"severity" mapstructure:"severity"`
}

// Classifier maps changes to severity tiers via an ordered rule table
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier from an ordered rule table.
// An empty table falls back to the default rules.
func NewClassifier(rules []Rule) (*Classifier, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	for i, rule := range rules {
		if !rule.Severity.IsValid() {
			return nil, fmt.Errorf("rule %d: invalid severity %q", i, rule.Severity)
		}
		for _, ct := range rule.ChangeTypes {
			if !validChangeType(ct) {
				return nil, fmt.Errorf("rule %d: unknown change type %q", i, ct)
			}
		}
	}

	return &Classifier{rules: rules}, nil
}

// DefaultRules returns the stock severity policy: a field becoming
// mandatory or disappearing while mandatory blocks submissions
// (critical); type/enum/shrinking-length changes break integrations
// (major); first observations and everything else are advisory (minor).
func DefaultRules() []Rule {
	return []Rule{
		{FirstObservation: boolPtr(true), Severity: types.SeverityMinor},
		{ChangeTypes: []types.ChangeType{types.ChangeTypeRequiredToggled}, AfterRequired: boolPtr(true), Severity: types.SeverityCritical},
		{ChangeTypes: []types.ChangeType{types.ChangeTypeRemoved}, BeforeRequired: boolPtr(true), Severity: types.SeverityCritical},
		{ChangeTypes: []types.ChangeType{types.ChangeTypeTypeChanged, types.ChangeTypeValuesChanged}, Severity: types.SeverityMajor},
		{ChangeTypes: []types.ChangeType{types.ChangeTypeAdded}, AfterRequired: boolPtr(true), Severity: types.SeverityMajor},
		{ChangeTypes: []types.ChangeType{types.ChangeTypeLengthChanged}, LengthDecreased: boolPtr(true), Severity: types.SeverityMajor},
	}
}

// Classify returns the severity of a change. Unmatched changes are minor.
func (c *Classifier) Classify(change *types.ChangeRecord, isFirstObservation bool) types.Severity {
	for i := range c.rules {
		if c.rules[i].matches(change, isFirstObservation) {
			return c.rules[i].Severity
		}
	}
	return types.SeverityMinor
}

// matches evaluates every set condition of the rule
func (r *Rule) matches(change *types.ChangeRecord, isFirstObservation bool) bool {
	if r.FirstObservation != nil && *r.FirstObservation != isFirstObservation {
		return false
	}

	if len(r.ChangeTypes) > 0 {
		found := false
		for _, ct := range r.ChangeTypes {
			if change.ChangeType == ct {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.BeforeRequired != nil {
		if change.Before == nil || change.Before.Required != *r.BeforeRequired {
			return false
		}
	}

	if r.AfterRequired != nil {
		if change.After == nil || change.After.Required != *r.AfterRequired {
			return false
		}
	}

	if r.LengthDecreased != nil {
		if lengthDecreased(change) != *r.LengthDecreased {
			return false
		}
	}

	return true
}

// lengthDecreased reports whether max_length shrank between the two sides
func lengthDecreased(change *types.ChangeRecord) bool {
	if change.Before == nil || change.After == nil {
		return false
	}
	if change.Before.MaxLength == nil || change.After.MaxLength == nil {
		return false
	}
	return *change.After.MaxLength < *change.Before.MaxLength
}

func validChangeType(ct types.ChangeType) bool {
	switch ct {
	case types.ChangeTypeAdded, types.ChangeTypeRemoved, types.ChangeTypeRequiredToggled,
		types.ChangeTypeTypeChanged, types.ChangeTypeLengthChanged,
		types.ChangeTypeValuesChanged, types.ChangeTypeEffectiveChanged:
		return true
	}
	return false
}

func boolPtr(v bool) *bool {
	return &v
}
