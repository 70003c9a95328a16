// Package store is the datastore boundary: transactional CRUD over
// entities, contradictions, audit records, and the persistent embedding
// cache tier. Entity type strings never reach a query unvalidated — every
// operation takes the closed types.EntityType and binds it as a parameter.
package store

import (
	"context"
	"time"

	"github.com/agenthands/cobalt/internal/types"
)

// AuditFilter narrows ListAuditRecords. Zero values mean no filtering.
type AuditFilter struct {
	EntityType types.EntityType
	Since      time.Time
}

// Store provides shared reads and transaction entry. Reads are safe for
// concurrent use; writes go through Tx.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	// ListByType returns the live candidate pool for a type: absorbed
	// entities (MergedInto set) are excluded.
	ListByType(ctx context.Context, t types.EntityType) ([]*types.Entity, error)
	QueryByTypeAndNamePrefix(ctx context.Context, t types.EntityType, prefix string) ([]*types.Entity, error)

	GetAuditRecord(ctx context.Context, id string) (*types.AuditRecord, error)
	ListAuditRecords(ctx context.Context, filter AuditFilter) ([]*types.AuditRecord, error)

	ListContradictions(ctx context.Context, entityID string) ([]*types.Contradiction, error)
	ListReviewFlags(ctx context.Context, t types.EntityType) ([]*types.ReviewFlag, error)

	// Persistent embedding cache tier, keyed by normalized-text hash.
	GetCachedVector(ctx context.Context, hash string) ([]float32, error)
	PutCachedVector(ctx context.Context, hash string, vec []float32) error

	// BuildIndices maintains indexes on (entity_type, name) and
	// (entity_type, source_count) so pool and reporting queries stay fast
	// as the corpus grows.
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is one atomic unit of consolidation writes. Either every staged write
// commits or none do.
type Tx interface {
	UpsertEntity(ctx context.Context, e *types.Entity) error
	InsertContradiction(ctx context.Context, c *types.Contradiction) error
	InsertAuditRecord(ctx context.Context, r *types.AuditRecord) error
	MarkAuditRolledBack(ctx context.Context, id, reason string, at time.Time) error
	InsertReviewFlag(ctx context.Context, f *types.ReviewFlag) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
