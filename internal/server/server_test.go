package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/cobalt/internal/config"
	"github.com/agenthands/cobalt/internal/core"
	"github.com/agenthands/cobalt/internal/core/consensus"
	"github.com/agenthands/cobalt/internal/core/dedupe"
	"github.com/agenthands/cobalt/internal/core/merge"
	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/embed"
	"github.com/agenthands/cobalt/internal/resilience"
	"github.com/agenthands/cobalt/internal/store"
	"github.com/agenthands/cobalt/internal/types"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	st := store.NewMemoryStore()
	policy := resilience.NewPolicy("embedder", cfg.Resilience, nil)
	cache := embed.NewCache(fixedEmbedder{}, st, policy, nil)

	scorer := similarity.NewScorer(cfg.Similarity)
	cons := consensus.NewScorer(cfg.Consensus)
	contradictions := dedupe.NewContradictionDetector(scorer, cfg.Similarity.ValueThreshold)
	merger := merge.NewMerger(scorer, contradictions, cons, cfg.Similarity.SentenceDedupe)
	detector := dedupe.NewDetector(scorer, cache, cfg.Similarity, nil)
	consolidator := core.NewConsolidator(st, detector, merger, cons, cache, nil)

	pool := core.NewPool(consolidator, cfg.Pool, nil)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	return NewServer(consolidator, pool, st, nil), st
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestSingleRecord(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{
		Record: &types.CandidateRecord{EntityType: "system", Name: "Excel", SourceID: "doc-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var outcome core.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, core.OutcomeInserted, outcome.Status)
	assert.NotEmpty(t, outcome.EntityID)
}

func TestIngestDuplicateMerges(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.SetupRouter()

	first := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{
		Record: &types.CandidateRecord{EntityType: "system", Name: "Excel", SourceID: "doc-1"},
	})
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{
		Record: &types.CandidateRecord{EntityType: "system", Name: "excel", SourceID: "doc-2"},
	})
	require.Equal(t, http.StatusOK, second.Code)

	var outcome core.Outcome
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &outcome))
	assert.Equal(t, core.OutcomeMerged, outcome.Status)
	assert.NotEmpty(t, outcome.AuditID)
}

func TestIngestInvalidType(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{
		Record: &types.CandidateRecord{EntityType: "gadget", Name: "X", SourceID: "doc-1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestBatchAccepted(t *testing.T) {
	s, st := newTestServer(t)
	router := s.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{
		Records: []types.CandidateRecord{
			{EntityType: "tool", Name: "Jira", SourceID: "doc-1"},
			{EntityType: "tool", Name: "Confluence", SourceID: "doc-1"},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Accepted int `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)

	// Queue drains asynchronously.
	require.Eventually(t, func() bool {
		tools, err := st.ListByType(context.Background(), types.TypeTool)
		return err == nil && len(tools) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIngestBatchRejectsBadType(t *testing.T) {
	s, st := newTestServer(t)
	router := s.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{
		Records: []types.CandidateRecord{
			{EntityType: "tool", Name: "Jira", SourceID: "doc-1"},
			{EntityType: "nonsense", Name: "X", SourceID: "doc-1"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	time.Sleep(50 * time.Millisecond)
	tools, err := st.ListByType(context.Background(), types.TypeTool)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestListEntitiesByTypeAndPrefix(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.SetupRouter()

	for _, name := range []string{"Salesforce", "Snowflake"} {
		w := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{
			Record: &types.CandidateRecord{EntityType: "system", Name: name, SourceID: "doc-1"},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/entities?type=system", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entities []*types.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Entities, 2)

	w = doJSON(t, router, http.MethodGet, "/entities?type=system&prefix=sales", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp.Entities = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "Salesforce", resp.Entities[0].Name)

	w = doJSON(t, router, http.MethodGet, "/entities?type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditAndRollbackFlow(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.SetupRouter()

	for _, rec := range []types.CandidateRecord{
		{EntityType: "system", Name: "Excel", SourceID: "doc-1"},
		{EntityType: "system", Name: "excel", SourceID: "doc-2"},
	} {
		w := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{Record: &rec})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/audit?type=system", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var auditResp struct {
		Records []*types.AuditRecord `json:"audit_records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auditResp))
	require.Len(t, auditResp.Records, 1)
	auditID := auditResp.Records[0].ID

	w = doJSON(t, router, http.MethodPost, "/rollback", RollbackRequest{AuditID: auditID, Reason: "operator request"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/rollback", RollbackRequest{AuditID: auditID, Reason: "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/rollback", RollbackRequest{AuditID: "missing", Reason: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditSinceFilter(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.SetupRouter()

	for _, rec := range []types.CandidateRecord{
		{EntityType: "system", Name: "Excel", SourceID: "doc-1"},
		{EntityType: "system", Name: "excel", SourceID: "doc-2"},
	} {
		w := doJSON(t, router, http.MethodPost, "/entities", IngestRequest{Record: &rec})
		require.Equal(t, http.StatusOK, w.Code)
	}

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w := doJSON(t, router, http.MethodGet, fmt.Sprintf("/audit?since=%s", future), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Records []*types.AuditRecord `json:"audit_records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Records)

	w = doJSON(t, router, http.MethodGet, "/audit?since=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.SetupRouter()

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
