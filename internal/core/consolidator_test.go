package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/cobalt/internal/config"
	"github.com/agenthands/cobalt/internal/core/consensus"
	"github.com/agenthands/cobalt/internal/core/dedupe"
	"github.com/agenthands/cobalt/internal/core/merge"
	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/embed"
	"github.com/agenthands/cobalt/internal/resilience"
	"github.com/agenthands/cobalt/internal/store"
	"github.com/agenthands/cobalt/internal/types"
)

// stubEmbedder returns canned vectors per input text. With no entry it
// falls back to a fixed vector, so unrelated names still embed somewhere.
type stubEmbedder struct {
	mu      sync.Mutex
	calls   int
	err     error
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0.5, 0.5, 0.5}, nil
}

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestConsolidator(t *testing.T, embedder *stubEmbedder) (*Consolidator, *store.MemoryStore, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Resilience.BackoffBase = time.Millisecond
	cfg.Resilience.BackoffCap = 5 * time.Millisecond

	st := store.NewMemoryStore()
	policy := resilience.NewPolicy("embedder", cfg.Resilience, nil)
	cache := embed.NewCache(embedder, st, policy, nil)

	scorer := similarity.NewScorer(cfg.Similarity)
	cons := consensus.NewScorer(cfg.Consensus)
	contradictions := dedupe.NewContradictionDetector(scorer, cfg.Similarity.ValueThreshold)
	merger := merge.NewMerger(scorer, contradictions, cons, cfg.Similarity.SentenceDedupe)
	detector := dedupe.NewDetector(scorer, cache, cfg.Similarity, nil)

	return NewConsolidator(st, detector, merger, cons, cache, nil), st, cfg
}

func record(entityType, name, sourceID string) types.CandidateRecord {
	return types.CandidateRecord{EntityType: entityType, Name: name, SourceID: sourceID}
}

func TestConsolidateVariantsCollapseToOneEntity(t *testing.T) {
	// Near-identical vectors close the lexical gap for "MS Excel".
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"Excel":    {0.90, 0.10, 0.05},
		"MS Excel": {0.89, 0.11, 0.05},
	}}
	c, st, _ := newTestConsolidator(t, embedder)
	ctx := context.Background()

	first, err := c.Consolidate(ctx, record("system", "Excel", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, first.Status)

	second, err := c.Consolidate(ctx, record("system", "excel", "doc-2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, second.Status)
	assert.Equal(t, first.EntityID, second.EntityID)

	third, err := c.Consolidate(ctx, record("system", "MS Excel", "doc-3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, third.Status)

	active, err := st.ListByType(ctx, types.TypeSystem)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 3, active[0].SourceCount)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2", "doc-3"}, active[0].SourceIDs)
	assert.True(t, active[0].IsConsolidated)
}

func TestConsolidateRecordsAuditTrail(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	_, err := c.Consolidate(ctx, record("tool", "Jira", "doc-1"))
	require.NoError(t, err)
	out, err := c.Consolidate(ctx, record("tool", "jira", "doc-2"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, out.Status)
	require.NotEmpty(t, out.AuditID)

	audit, err := st.GetAuditRecord(ctx, out.AuditID)
	require.NoError(t, err)
	require.NotNil(t, audit)
	assert.Equal(t, types.TypeTool, audit.EntityType)
	assert.Equal(t, out.EntityID, audit.PrimaryEntityID)
	assert.False(t, audit.RolledBack())

	snapshot, err := types.DecodeSnapshot(audit.BeforeSnapshot)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, 1, snapshot[0].SourceCount)
}

func TestConsolidateIdempotentForSameSource(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	first, err := c.Consolidate(ctx, record("system", "Excel", "doc-1"))
	require.NoError(t, err)
	_, err = c.Consolidate(ctx, record("system", "excel", "doc-1"))
	require.NoError(t, err)

	got, err := st.GetEntity(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SourceCount)
	assert.Equal(t, []string{"doc-1"}, got.SourceIDs)
}

func TestConsolidateDetectsAttributeContradiction(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	recA := record("process", "Invoice Approval", "doc-1")
	recA.Attributes = map[string]string{"frequency": "daily"}
	recB := record("process", "invoice approval", "doc-2")
	recB.Attributes = map[string]string{"frequency": "weekly"}

	_, err := c.Consolidate(ctx, recA)
	require.NoError(t, err)
	out, err := c.Consolidate(ctx, recB)
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, out.Status)

	contradictions, err := st.ListContradictions(ctx, out.EntityID)
	require.NoError(t, err)
	require.Len(t, contradictions, 1)
	assert.Equal(t, "frequency", contradictions[0].Attribute)
	assert.Equal(t, types.ContradictionOpen, contradictions[0].Status)

	// The same merge without the conflict scores higher.
	recC := record("process", "Order Fulfillment", "doc-1")
	recC.Attributes = map[string]string{"frequency": "daily"}
	recD := record("process", "order fulfillment", "doc-2")
	recD.Attributes = map[string]string{"frequency": "daily"}
	_, err = c.Consolidate(ctx, recC)
	require.NoError(t, err)
	clean, err := c.Consolidate(ctx, recD)
	require.NoError(t, err)

	conflicted, err := st.GetEntity(ctx, out.EntityID)
	require.NoError(t, err)
	agreeing, err := st.GetEntity(ctx, clean.EntityID)
	require.NoError(t, err)
	assert.Less(t, conflicted.Confidence, agreeing.Confidence)
}

func TestConsolidateFlagsBorderlineStrictMatch(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	first, err := c.Consolidate(ctx, record("metric", "Customer Churn Rate", "doc-1"))
	require.NoError(t, err)

	// Lexical 0.95: auto-merge territory for systems, review band for metrics.
	out, err := c.Consolidate(ctx, record("metric", "Customer Churn Rates", "doc-2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFlagged, out.Status)
	assert.Equal(t, first.EntityID, out.EntityID)
	assert.NotEmpty(t, out.FlagID)

	flags, err := st.ListReviewFlags(ctx, types.TypeMetric)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, first.EntityID, flags[0].EntityID)
	assert.Equal(t, "Customer Churn Rates", flags[0].Record.Name)

	// The borderline record itself is not inserted.
	active, err := st.ListByType(ctx, types.TypeMetric)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConsolidateRejectsInvalidEntityType(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	for _, bad := range []string{
		"widget",
		"Entity) DETACH DELETE (n",
		"system; DROP GRAPH",
		"",
	} {
		_, err := c.Consolidate(ctx, record(bad, "Anything", "doc-1"))
		assert.ErrorIs(t, err, types.ErrInvalidEntityType, "type %q", bad)
		if bad != "" {
			assert.Equal(t, 1, strings.Count(err.Error(), bad), "type quoted once in %q", err)
		}
	}

	for _, valid := range types.AllEntityTypes() {
		active, err := st.ListByType(ctx, valid)
		require.NoError(t, err)
		assert.Empty(t, active)
	}
}

func TestConsolidateSurvivesEmbedderOutage(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("connection refused")}
	c, st, cfg := newTestConsolidator(t, embedder)
	ctx := context.Background()

	names := []string{"Salesforce", "Workday", "Netsuite", "Zendesk", "Tableau"}
	for i, name := range names {
		out, err := c.Consolidate(ctx, record("system", name, "doc-1"))
		require.NoError(t, err, "insert %d", i)
		assert.Equal(t, OutcomeInserted, out.Status)
		assert.True(t, out.Degraded)
	}

	active, err := st.ListByType(ctx, types.TypeSystem)
	require.NoError(t, err)
	assert.Len(t, active, len(names))
	for _, e := range active {
		assert.False(t, e.SemanticVerified)
		assert.Empty(t, e.Embedding)
	}

	// Enough raw failures accumulated to open the breaker, so later
	// records complete without touching the embedder at all.
	assert.GreaterOrEqual(t, embedder.callCount(), int(cfg.Resilience.BreakerThreshold))
	before := embedder.callCount()
	out, err := c.Consolidate(ctx, record("system", "Looker", "doc-2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, out.Status)
	assert.Equal(t, before, embedder.callCount())
}

func TestConsolidateCommitFailureLeavesStoreUntouched(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	first, err := c.Consolidate(ctx, record("system", "Excel", "doc-1"))
	require.NoError(t, err)

	st.FailOnce("insert_audit", errors.New("disk full"))
	_, err = c.Consolidate(ctx, record("system", "excel", "doc-2"))
	require.Error(t, err)

	var cf *types.ConsolidationFailedError
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, "excel", cf.Record.Name)

	// The entity write in the same transaction was undone.
	got, err := st.GetEntity(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SourceCount)
	assert.False(t, got.IsConsolidated)

	records, err := st.ListAuditRecords(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRollbackRestoresBeforeState(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	first, err := c.Consolidate(ctx, record("system", "Excel", "doc-1"))
	require.NoError(t, err)
	before, err := st.GetEntity(ctx, first.EntityID)
	require.NoError(t, err)

	merged, err := c.Consolidate(ctx, record("system", "excel", "doc-2"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, merged.Status)

	audit, err := c.Rollback(ctx, merged.AuditID, "bad merge")
	require.NoError(t, err)
	assert.True(t, audit.RolledBack())
	assert.Equal(t, "bad merge", audit.RollbackReason)

	restored, err := st.GetEntity(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, before.SourceCount, restored.SourceCount)
	assert.Equal(t, before.SourceIDs, restored.SourceIDs)
	assert.Equal(t, before.Confidence, restored.Confidence)
	assert.Equal(t, before.Description, restored.Description)
	assert.False(t, restored.IsConsolidated)
}

func TestRollbackIsSingleUse(t *testing.T) {
	c, _, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	_, err := c.Consolidate(ctx, record("system", "Excel", "doc-1"))
	require.NoError(t, err)
	merged, err := c.Consolidate(ctx, record("system", "excel", "doc-2"))
	require.NoError(t, err)

	_, err = c.Rollback(ctx, merged.AuditID, "first")
	require.NoError(t, err)
	_, err = c.Rollback(ctx, merged.AuditID, "second")
	assert.ErrorIs(t, err, types.ErrAlreadyRolledBack)
}

func TestRollbackUnknownAudit(t *testing.T) {
	c, _, _ := newTestConsolidator(t, &stubEmbedder{})
	_, err := c.Rollback(context.Background(), "no-such-audit", "because")
	assert.ErrorIs(t, err, types.ErrAuditNotFound)
}

func TestConcurrentDuplicatesSerializePerType(t *testing.T) {
	c, st, _ := newTestConsolidator(t, &stubEmbedder{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, name := range []string{"Excel", "excel", "EXCEL", "Excel"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, err := c.Consolidate(ctx, record("system", name, "doc-"+string(rune('a'+i))))
			assert.NoError(t, err)
		}(i, name)
	}
	wg.Wait()

	active, err := st.ListByType(ctx, types.TypeSystem)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 4, active[0].SourceCount)
}
