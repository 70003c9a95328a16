package store

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/cobalt/internal/types"
)

func nodeRecord(key string, props map[string]interface{}) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{key},
		Values: []interface{}{neo4j.Node{Props: props}},
	}
}

func TestEntityFromRecord(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := nodeRecord("n", map[string]interface{}{
		"id":                "e1",
		"entity_type":       "system",
		"name":              "Excel",
		"description":       "Spreadsheet.",
		"attributes":        `{"vendor":"Microsoft"}`,
		"source_count":      int64(2),
		"source_ids":        []interface{}{"doc-1", "doc-2"},
		"confidence":        0.45,
		"is_consolidated":   true,
		"merged_into":       "",
		"semantic_verified": true,
		"embedding":         []interface{}{0.1, 0.2},
		"created_at":        created.UnixNano(),
		"updated_at":        created.UnixNano(),
	})

	e, err := entityFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, types.TypeSystem, e.Type)
	assert.Equal(t, "Excel", e.Name)
	assert.Equal(t, map[string]string{"vendor": "Microsoft"}, e.Attributes)
	assert.Equal(t, 2, e.SourceCount)
	assert.Equal(t, []string{"doc-1", "doc-2"}, e.SourceIDs)
	assert.True(t, e.IsConsolidated)
	assert.Equal(t, []float32{0.1, 0.2}, e.Embedding)
	assert.Equal(t, created, e.CreatedAt)
}

func TestEntityFromRecordRejectsUnknownType(t *testing.T) {
	rec := nodeRecord("n", map[string]interface{}{
		"id":          "e1",
		"entity_type": "widget",
		"name":        "X",
	})
	_, err := entityFromRecord(rec)
	assert.ErrorIs(t, err, types.ErrInvalidEntityType)
}

func TestAuditFromRecordRollbackTimestamp(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	props := map[string]interface{}{
		"id":                "a1",
		"entity_type":       "system",
		"primary_entity_id": "e1",
		"merged_entity_ids": []interface{}{"e2"},
		"before_snapshot":   `[]`,
		"degraded":          false,
		"created_at":        created.UnixNano(),
		"rollback_reason":   "",
	}

	r, err := auditFromRecord(nodeRecord("a", props))
	require.NoError(t, err)
	assert.False(t, r.RolledBack())

	props["rolled_back_at"] = created.Add(time.Hour).UnixNano()
	props["rollback_reason"] = "operator request"
	r, err = auditFromRecord(nodeRecord("a", props))
	require.NoError(t, err)
	require.True(t, r.RolledBack())
	assert.Equal(t, created.Add(time.Hour), *r.RolledBackAt)
	assert.Equal(t, "operator request", r.RollbackReason)
}
