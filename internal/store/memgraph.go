package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/types"
)

// MemgraphStore implements Store over Memgraph (bolt protocol, neo4j
// driver). Map-valued fields are stored as JSON string properties;
// timestamps as unix nanos so range filters are plain comparisons.
type MemgraphStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

func NewMemgraphStore(uri, username, password string, logger *zap.Logger) (*MemgraphStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, err
	}
	logger.Info("connected to memgraph", zap.String("uri", uri))
	return &MemgraphStore{driver: driver, logger: logger}, nil
}

func (s *MemgraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *MemgraphStore) BuildIndices(ctx context.Context) error {
	queries := []string{
		"CREATE INDEX ON :Entity(id);",
		"CREATE INDEX ON :Entity(entity_type);",
		"CREATE INDEX ON :Entity(name_norm);",
		"CREATE INDEX ON :Entity(source_count);",
		"CREATE INDEX ON :AuditRecord(id);",
		"CREATE INDEX ON :AuditRecord(entity_type);",
		"CREATE INDEX ON :AuditRecord(created_at);",
		"CREATE INDEX ON :Contradiction(entity_id);",
		"CREATE INDEX ON :EmbeddingCache(hash);",
	}
	for _, q := range queries {
		if _, err := s.execute(ctx, q, nil); err != nil {
			// Index may already exist.
			s.logger.Warn("failed to create index", zap.String("query", q), zap.Error(err))
		}
	}
	return nil
}

func (s *MemgraphStore) Begin(ctx context.Context) (Tx, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &memgraphTx{session: session, tx: tx}, nil
}

func (s *MemgraphStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	result, err := s.execute(ctx, getEntityQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	return entityFromRecord(result.Records[0])
}

func (s *MemgraphStore) ListByType(ctx context.Context, t types.EntityType) ([]*types.Entity, error) {
	result, err := s.execute(ctx, listByTypeQuery, map[string]interface{}{"entity_type": string(t)})
	if err != nil {
		return nil, err
	}
	entities := make([]*types.Entity, 0, len(result.Records))
	for _, rec := range result.Records {
		e, err := entityFromRecord(rec)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func (s *MemgraphStore) QueryByTypeAndNamePrefix(ctx context.Context, t types.EntityType, prefix string) ([]*types.Entity, error) {
	result, err := s.execute(ctx, queryByTypeAndPrefixQuery, map[string]interface{}{
		"entity_type": string(t),
		"prefix":      similarity.Normalize(prefix),
	})
	if err != nil {
		return nil, err
	}
	entities := make([]*types.Entity, 0, len(result.Records))
	for _, rec := range result.Records {
		e, err := entityFromRecord(rec)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func (s *MemgraphStore) GetAuditRecord(ctx context.Context, id string) (*types.AuditRecord, error) {
	result, err := s.execute(ctx, getAuditQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	return auditFromRecord(result.Records[0])
}

func (s *MemgraphStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]*types.AuditRecord, error) {
	since := int64(0)
	if !filter.Since.IsZero() {
		since = filter.Since.UTC().UnixNano()
	}
	result, err := s.execute(ctx, listAuditQuery, map[string]interface{}{
		"entity_type": string(filter.EntityType),
		"since":       since,
	})
	if err != nil {
		return nil, err
	}
	records := make([]*types.AuditRecord, 0, len(result.Records))
	for _, rec := range result.Records {
		r, err := auditFromRecord(rec)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *MemgraphStore) ListContradictions(ctx context.Context, entityID string) ([]*types.Contradiction, error) {
	result, err := s.execute(ctx, listContradictionsQuery, map[string]interface{}{"entity_id": entityID})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Contradiction, 0, len(result.Records))
	for _, rec := range result.Records {
		c, err := contradictionFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemgraphStore) ListReviewFlags(ctx context.Context, t types.EntityType) ([]*types.ReviewFlag, error) {
	result, err := s.execute(ctx, listReviewFlagsQuery, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*types.ReviewFlag, 0, len(result.Records))
	for _, rec := range result.Records {
		f, err := flagFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if t != "" && types.EntityType(f.Record.EntityType) != t {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *MemgraphStore) GetCachedVector(ctx context.Context, hash string) ([]float32, error) {
	result, err := s.execute(ctx, getCachedVectorQuery, map[string]interface{}{"hash": hash})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	raw, _ := result.Records[0].Get("vector")
	return toVector(raw), nil
}

func (s *MemgraphStore) PutCachedVector(ctx context.Context, hash string, vec []float32) error {
	_, err := s.execute(ctx, putCachedVectorQuery, map[string]interface{}{
		"hash":   hash,
		"vector": toFloat64s(vec),
	})
	return err
}

func (s *MemgraphStore) execute(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

// memgraphTx runs staged writes inside one explicit bolt transaction.
type memgraphTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

func (t *memgraphTx) UpsertEntity(ctx context.Context, e *types.Entity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return err
	}
	_, err = t.tx.Run(ctx, upsertEntityQuery, map[string]interface{}{
		"id":                e.ID,
		"entity_type":       string(e.Type),
		"name":              e.Name,
		"name_norm":         similarity.Normalize(e.Name),
		"description":       e.Description,
		"attributes":        string(attrs),
		"source_count":      int64(e.SourceCount),
		"source_ids":        e.SourceIDs,
		"confidence":        e.Confidence,
		"is_consolidated":   e.IsConsolidated,
		"merged_into":       e.MergedInto,
		"semantic_verified": e.SemanticVerified,
		"embedding":         toFloat64s(e.Embedding),
		"created_at":        e.CreatedAt.UTC().UnixNano(),
		"updated_at":        e.UpdatedAt.UTC().UnixNano(),
	})
	return err
}

func (t *memgraphTx) InsertContradiction(ctx context.Context, c *types.Contradiction) error {
	values, err := json.Marshal(c.Values)
	if err != nil {
		return err
	}
	_, err = t.tx.Run(ctx, insertContradictionQuery, map[string]interface{}{
		"id":               c.ID,
		"entity_id":        c.EntityID,
		"attribute":        c.Attribute,
		"values":           string(values),
		"value_similarity": c.ValueSimilarity,
		"status":           string(c.Status),
		"resolution":       c.Resolution,
		"created_at":       c.CreatedAt.UTC().UnixNano(),
	})
	return err
}

func (t *memgraphTx) InsertAuditRecord(ctx context.Context, r *types.AuditRecord) error {
	_, err := t.tx.Run(ctx, insertAuditQuery, map[string]interface{}{
		"id":                r.ID,
		"entity_type":       string(r.EntityType),
		"primary_entity_id": r.PrimaryEntityID,
		"merged_entity_ids": r.MergedEntityIDs,
		"before_snapshot":   string(r.BeforeSnapshot),
		"degraded":          r.Degraded,
		"created_at":        r.CreatedAt.UTC().UnixNano(),
	})
	return err
}

func (t *memgraphTx) MarkAuditRolledBack(ctx context.Context, id, reason string, at time.Time) error {
	// Read inside the transaction so the not-found / already-rolled-back
	// checks and the update are atomic.
	result, err := t.tx.Run(ctx, getAuditQuery, map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return types.ErrAuditNotFound
	}
	r, err := auditFromRecord(records[0])
	if err != nil {
		return err
	}
	if r.RolledBack() {
		return types.ErrAlreadyRolledBack
	}

	_, err = t.tx.Run(ctx, markAuditRolledBackQuery, map[string]interface{}{
		"id":              id,
		"rolled_back_at":  at.UTC().UnixNano(),
		"rollback_reason": reason,
	})
	return err
}

func (t *memgraphTx) InsertReviewFlag(ctx context.Context, f *types.ReviewFlag) error {
	candidate, err := json.Marshal(f.Candidate)
	if err != nil {
		return err
	}
	record, err := json.Marshal(f.Record)
	if err != nil {
		return err
	}
	_, err = t.tx.Run(ctx, insertReviewFlagQuery, map[string]interface{}{
		"id":         f.ID,
		"entity_id":  f.EntityID,
		"candidate":  string(candidate),
		"record":     string(record),
		"created_at": f.CreatedAt.UTC().UnixNano(),
	})
	return err
}

func (t *memgraphTx) Commit(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.tx.Commit(ctx)
}

func (t *memgraphTx) Rollback(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.tx.Rollback(ctx)
}
