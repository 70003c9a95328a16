package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/core/consensus"
	"github.com/agenthands/cobalt/internal/core/dedupe"
	"github.com/agenthands/cobalt/internal/core/merge"
	"github.com/agenthands/cobalt/internal/embed"
	"github.com/agenthands/cobalt/internal/store"
	"github.com/agenthands/cobalt/internal/types"
)

// Outcome statuses for a processed candidate record.
const (
	OutcomeMerged   = "merged"
	OutcomeInserted = "inserted"
	OutcomeFlagged  = "flagged_for_review"
)

// Outcome reports what consolidation did with one candidate record.
type Outcome struct {
	Status          string   `json:"status"`
	EntityID        string   `json:"entity_id,omitempty"`
	AuditID         string   `json:"audit_id,omitempty"`
	MergedEntityIDs []string `json:"merged_entity_ids,omitempty"`
	FlagID          string   `json:"flag_id,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
}

// Consolidator folds incoming candidate records into the knowledge graph:
// duplicate detection, merge with provenance, contradiction capture, and
// an audit trail that supports rollback. Records of the same entity type
// are serialized through a per-type mutex so two concurrent near-duplicates
// cannot both pass detection and insert separately.
type Consolidator struct {
	store     store.Store
	detector  *dedupe.Detector
	merger    *merge.Merger
	consensus *consensus.Scorer
	cache     *embed.Cache
	logger    *zap.Logger

	typeLocks map[types.EntityType]*sync.Mutex
}

func NewConsolidator(st store.Store, detector *dedupe.Detector, merger *merge.Merger, cons *consensus.Scorer, cache *embed.Cache, logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := make(map[types.EntityType]*sync.Mutex)
	for _, t := range types.AllEntityTypes() {
		locks[t] = &sync.Mutex{}
	}
	return &Consolidator{
		store:     st,
		detector:  detector,
		merger:    merger,
		consensus: cons,
		cache:     cache,
		logger:    logger,
		typeLocks: locks,
	}
}

// Consolidate processes one candidate record end to end. All storage writes
// for the record happen in a single transaction; on commit failure nothing
// is persisted and the error wraps the record so callers can requeue it.
func (c *Consolidator) Consolidate(ctx context.Context, rec types.CandidateRecord) (*Outcome, error) {
	entityType, err := types.ParseEntityType(rec.EntityType)
	if err != nil {
		return nil, err
	}

	lock := c.typeLocks[entityType]
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	incoming := c.buildEntity(rec, entityType, now)

	pool, err := c.store.ListByType(ctx, entityType)
	if err != nil {
		return nil, c.failed(rec, fmt.Errorf("failed to load candidate pool: %w", err))
	}

	candidates, err := c.detector.FindCandidates(ctx, incoming, pool)
	if err != nil {
		return nil, c.failed(rec, err)
	}
	c.logger.Debug("scored candidate record",
		zap.String("entity_type", string(entityType)),
		zap.String("name", rec.Name),
		zap.Int("pool_size", len(pool)),
		zap.Int("candidates", len(candidates)))

	if len(candidates) == 0 || candidates[0].Decision == types.DecisionReject {
		return c.insert(ctx, rec, incoming)
	}
	if candidates[0].Decision == types.DecisionManualReview {
		return c.flagForReview(ctx, rec, candidates[0], now)
	}
	return c.mergeInto(ctx, rec, incoming, pool, candidates, now)
}

func (c *Consolidator) buildEntity(rec types.CandidateRecord, t types.EntityType, now time.Time) *types.Entity {
	return &types.Entity{
		ID:          uuid.New().String(),
		Type:        t,
		Name:        rec.Name,
		Description: rec.Description,
		Attributes:  cloneAttributes(rec.Attributes),
		SourceCount: 1,
		SourceIDs:   []string{rec.SourceID},
		Confidence:  c.consensus.Score(consensus.Input{SourceCount: 1}),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// insert stores the incoming record as a new entity. Missing embeddings
// degrade the entity to lexical-only matching, they never block the insert.
func (c *Consolidator) insert(ctx context.Context, rec types.CandidateRecord, incoming *types.Entity) (*Outcome, error) {
	degraded := false
	vec, err := c.cache.Vector(ctx, incoming.TextRepresentation())
	if err != nil {
		degraded = true
		if !errors.Is(err, types.ErrNoVector) {
			c.logger.Warn("inserting entity without embedding",
				zap.String("name", incoming.Name), zap.Error(err))
		}
	} else {
		incoming.Embedding = vec
		incoming.SemanticVerified = true
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, c.failed(rec, err)
	}
	if err := tx.UpsertEntity(ctx, incoming); err != nil {
		_ = tx.Rollback(ctx)
		return nil, c.failed(rec, err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return nil, c.failed(rec, err)
	}

	c.logger.Info("inserted entity",
		zap.String("id", incoming.ID),
		zap.String("entity_type", string(incoming.Type)),
		zap.String("name", incoming.Name),
		zap.Bool("degraded", degraded))
	return &Outcome{Status: OutcomeInserted, EntityID: incoming.ID, Degraded: degraded}, nil
}

// flagForReview parks a borderline record for a human instead of guessing.
// The record itself is not inserted; re-submitting it after the flag is
// resolved runs detection again.
func (c *Consolidator) flagForReview(ctx context.Context, rec types.CandidateRecord, top types.DuplicateCandidate, now time.Time) (*Outcome, error) {
	flag := &types.ReviewFlag{
		ID:        uuid.New().String(),
		EntityID:  top.EntityBID,
		Candidate: top,
		Record:    rec,
		CreatedAt: now,
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, c.failed(rec, err)
	}
	if err := tx.InsertReviewFlag(ctx, flag); err != nil {
		_ = tx.Rollback(ctx)
		return nil, c.failed(rec, err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return nil, c.failed(rec, err)
	}

	c.logger.Info("flagged candidate for manual review",
		zap.String("flag_id", flag.ID),
		zap.String("entity_id", top.EntityBID),
		zap.String("name", rec.Name),
		zap.Float64("combined", top.Combined))
	return &Outcome{Status: OutcomeFlagged, EntityID: top.EntityBID, FlagID: flag.ID, Degraded: top.Degraded}, nil
}

// mergeInto folds the incoming record and every transitively matched pool
// entity into one consolidated entity. Absorbed entities are kept with a
// pointer to the survivor; the pre-merge states go into the audit snapshot.
func (c *Consolidator) mergeInto(ctx context.Context, rec types.CandidateRecord, incoming *types.Entity, pool []*types.Entity, candidates []types.DuplicateCandidate, now time.Time) (*Outcome, error) {
	byID := make(map[string]*types.Entity, len(pool))
	for _, e := range pool {
		byID[e.ID] = e
	}

	members := c.groupMembers(incoming.ID, candidates, byID)
	if len(members) == 0 {
		// Top candidate merged away under a concurrent writer; treat as new.
		return c.insert(ctx, rec, incoming)
	}

	primary := pickPrimary(members)
	others := make([]*types.Entity, 0, len(members))
	for _, m := range members {
		if m.ID != primary.ID {
			others = append(others, m)
		}
	}
	others = append(others, incoming)

	snapshot, err := types.SnapshotEntities(members)
	if err != nil {
		return nil, c.failed(rec, err)
	}

	merged, contradictions := c.merger.Merge(primary, others, now)
	degraded := anyDegraded(candidates)

	audit := &types.AuditRecord{
		ID:              uuid.New().String(),
		EntityType:      merged.Type,
		PrimaryEntityID: primary.ID,
		MergedEntityIDs: absorbedIDs(members, primary.ID),
		BeforeSnapshot:  snapshot,
		Degraded:        degraded,
		CreatedAt:       now,
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, c.failed(rec, err)
	}
	commit := func() error {
		if err := tx.UpsertEntity(ctx, merged); err != nil {
			return err
		}
		for _, m := range members {
			if m.ID == primary.ID {
				continue
			}
			absorbed := m.Clone()
			absorbed.MergedInto = primary.ID
			absorbed.UpdatedAt = now
			if err := tx.UpsertEntity(ctx, absorbed); err != nil {
				return err
			}
		}
		for i := range contradictions {
			if err := tx.InsertContradiction(ctx, &contradictions[i]); err != nil {
				return err
			}
		}
		if err := tx.InsertAuditRecord(ctx, audit); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	if err := commit(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, c.failed(rec, err)
	}

	c.logger.Info("merged entities",
		zap.String("primary_id", primary.ID),
		zap.Strings("absorbed", audit.MergedEntityIDs),
		zap.String("name", merged.Name),
		zap.Int("source_count", merged.SourceCount),
		zap.Int("contradictions", len(contradictions)),
		zap.Bool("degraded", degraded))
	return &Outcome{
		Status:          OutcomeMerged,
		EntityID:        primary.ID,
		AuditID:         audit.ID,
		MergedEntityIDs: audit.MergedEntityIDs,
		Degraded:        degraded,
	}, nil
}

// groupMembers resolves which stored entities merge together with the
// incoming one, following transitive auto-merge pairs.
func (c *Consolidator) groupMembers(incomingID string, candidates []types.DuplicateCandidate, byID map[string]*types.Entity) []*types.Entity {
	for _, group := range dedupe.GroupDuplicates(candidates) {
		contains := false
		for _, id := range group {
			if id == incomingID {
				contains = true
				break
			}
		}
		if !contains {
			continue
		}
		members := make([]*types.Entity, 0, len(group))
		for _, id := range group {
			if e, ok := byID[id]; ok {
				members = append(members, e)
			}
		}
		return members
	}
	return nil
}

// pickPrimary prefers the member with the most source support, then the
// oldest, so merge direction is deterministic.
func pickPrimary(members []*types.Entity) *types.Entity {
	primary := members[0]
	for _, m := range members[1:] {
		if m.SourceCount > primary.SourceCount {
			primary = m
			continue
		}
		if m.SourceCount == primary.SourceCount && m.CreatedAt.Before(primary.CreatedAt) {
			primary = m
		}
	}
	return primary
}

func absorbedIDs(members []*types.Entity, primaryID string) []string {
	ids := make([]string, 0, len(members)-1)
	for _, m := range members {
		if m.ID != primaryID {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func anyDegraded(candidates []types.DuplicateCandidate) bool {
	for _, cand := range candidates {
		if cand.Degraded {
			return true
		}
	}
	return false
}

func cloneAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func (c *Consolidator) failed(rec types.CandidateRecord, err error) error {
	c.logger.Error("consolidation failed",
		zap.String("entity_type", rec.EntityType),
		zap.String("name", rec.Name),
		zap.Error(err))
	return &types.ConsolidationFailedError{Record: rec, Err: err}
}
