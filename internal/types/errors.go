package types

import (
	"errors"
	"fmt"
)

var (
	ErrChangeNotFound   = errors.New("change not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidDriver    = errors.New("invalid storage driver")
)

// NormalizationError represents malformed or empty raw input for one source
type NormalizationError struct {
	SourceID string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed for source %s: %s", e.SourceID, e.Reason)
}

// InvalidTransitionError represents an illegal lifecycle transition attempt
type InvalidTransitionError struct {
	ChangeID string
	From     ChangeStatus
	To       ChangeStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for change %s", e.From, e.To, e.ChangeID)
}

// LedgerConflictError represents a concurrent write race on the same change
type LedgerConflictError struct {
	ChangeID string
}

func (e *LedgerConflictError) Error() string {
	return fmt.Sprintf("concurrent update conflict on change %s", e.ChangeID)
}

// UpstreamUnavailableError represents a failed extraction collaborator call.
// The previous snapshot stays authoritative for that source until the
// next scheduled run.
type UpstreamUnavailableError struct {
	SourceID string
	Err      error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable for source %s: %v", e.SourceID, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}
