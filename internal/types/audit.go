package types

import (
	"encoding/json"
	"time"
)

// AuditRecord captures one committed merge and the pre-merge state of every
// affected entity. Records are append-only: rollback marks them rather than
// deleting them, so the trail survives any sequence of operations.
type AuditRecord struct {
	ID              string     `json:"id"`
	EntityType      EntityType `json:"entity_type"`
	PrimaryEntityID string     `json:"primary_entity_id"`
	MergedEntityIDs []string   `json:"merged_entity_ids"`

	// BeforeSnapshot is the JSON-serialized pre-merge state of the primary
	// and every absorbed entity, restored verbatim on rollback.
	BeforeSnapshot []byte `json:"before_snapshot"`

	// Degraded is true when the merge decision was made lexical-only.
	Degraded bool `json:"degraded,omitempty"`

	CreatedAt      time.Time  `json:"timestamp"`
	RolledBackAt   *time.Time `json:"rollback_timestamp,omitempty"`
	RollbackReason string     `json:"rollback_reason,omitempty"`
}

// RolledBack reports whether this record has already been reversed.
func (r *AuditRecord) RolledBack() bool {
	return r.RolledBackAt != nil
}

// SnapshotEntities encodes entity states for a BeforeSnapshot.
func SnapshotEntities(entities []*Entity) ([]byte, error) {
	return json.Marshal(entities)
}

// DecodeSnapshot restores the entity states captured by SnapshotEntities.
func DecodeSnapshot(data []byte) ([]*Entity, error) {
	var entities []*Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// ReviewFlag is the pending-review marker written when a detection lands in
// the manual-review band. No entity write happens alongside it.
type ReviewFlag struct {
	ID        string             `json:"id"`
	EntityID  string             `json:"entity_id"`
	Candidate DuplicateCandidate `json:"candidate"`
	Record    CandidateRecord    `json:"record"`
	CreatedAt time.Time          `json:"created_at"`
}
