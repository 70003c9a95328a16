package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEntityType marks a record whose type is outside the
	// validated set. Rejected at ingress; never reaches storage.
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrNoVector is returned by the embedding cache while the circuit
	// breaker is open. Callers degrade to lexical-only matching.
	ErrNoVector = errors.New("no semantic vector available")

	// ErrEmbedderUnavailable is returned once the retry budget against the
	// embedding service is exhausted.
	ErrEmbedderUnavailable = errors.New("embedding service unavailable")

	// ErrAuditNotFound is returned for a rollback of an unknown audit id.
	ErrAuditNotFound = errors.New("audit record not found")

	// ErrAlreadyRolledBack is returned when a rollback
	// targets a record that was already reversed.
	ErrAlreadyRolledBack = errors.New("audit record already rolled back")
)

// ConsolidationFailedError wraps a transaction failure during commit. The
// original input record is carried unchanged so the caller can retry later
// without side effects; atomic rollback guarantees no partial state persists.
type ConsolidationFailedError struct {
	Record CandidateRecord
	Err    error
}

func (e *ConsolidationFailedError) Error() string {
	return fmt.Sprintf("consolidation failed for %s %q: %v", e.Record.EntityType, e.Record.Name, e.Err)
}

func (e *ConsolidationFailedError) Unwrap() error {
	return e.Err
}
