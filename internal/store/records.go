package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/cobalt/internal/types"
)

// Node-to-struct mapping for query results. Properties written as JSON
// strings (attributes, conflicting values, snapshots) are decoded here.

func entityFromRecord(rec *neo4j.Record) (*types.Entity, error) {
	props, err := nodeProps(rec, "n")
	if err != nil {
		return nil, err
	}
	entityType := types.EntityType(propString(props, "entity_type"))
	if !entityType.Valid() {
		// A node we did not write, or written by a newer schema.
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidEntityType, string(entityType))
	}
	e := &types.Entity{
		ID:               propString(props, "id"),
		Type:             entityType,
		Name:             propString(props, "name"),
		Description:      propString(props, "description"),
		SourceCount:      int(propInt64(props, "source_count")),
		SourceIDs:        propStrings(props, "source_ids"),
		Confidence:       propFloat64(props, "confidence"),
		IsConsolidated:   propBool(props, "is_consolidated"),
		MergedInto:       propString(props, "merged_into"),
		SemanticVerified: propBool(props, "semantic_verified"),
		Embedding:        toVector(props["embedding"]),
		CreatedAt:        propTime(props, "created_at"),
		UpdatedAt:        propTime(props, "updated_at"),
	}
	if raw := propString(props, "attributes"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode entity attributes: %w", err)
		}
	}
	return e, nil
}

func auditFromRecord(rec *neo4j.Record) (*types.AuditRecord, error) {
	props, err := nodeProps(rec, "a")
	if err != nil {
		return nil, err
	}
	r := &types.AuditRecord{
		ID:              propString(props, "id"),
		EntityType:      types.EntityType(propString(props, "entity_type")),
		PrimaryEntityID: propString(props, "primary_entity_id"),
		MergedEntityIDs: propStrings(props, "merged_entity_ids"),
		BeforeSnapshot:  []byte(propString(props, "before_snapshot")),
		Degraded:        propBool(props, "degraded"),
		CreatedAt:       propTime(props, "created_at"),
		RollbackReason:  propString(props, "rollback_reason"),
	}
	if _, ok := props["rolled_back_at"].(int64); ok {
		at := propTime(props, "rolled_back_at")
		r.RolledBackAt = &at
	}
	return r, nil
}

func contradictionFromRecord(rec *neo4j.Record) (*types.Contradiction, error) {
	props, err := nodeProps(rec, "c")
	if err != nil {
		return nil, err
	}
	c := &types.Contradiction{
		ID:              propString(props, "id"),
		EntityID:        propString(props, "entity_id"),
		Attribute:       propString(props, "attribute"),
		ValueSimilarity: propFloat64(props, "value_similarity"),
		Status:          types.ContradictionStatus(propString(props, "status")),
		Resolution:      propString(props, "resolution"),
		CreatedAt:       propTime(props, "created_at"),
	}
	if raw := propString(props, "values"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Values); err != nil {
			return nil, fmt.Errorf("failed to decode conflicting values: %w", err)
		}
	}
	return c, nil
}

func flagFromRecord(rec *neo4j.Record) (*types.ReviewFlag, error) {
	props, err := nodeProps(rec, "f")
	if err != nil {
		return nil, err
	}
	f := &types.ReviewFlag{
		ID:        propString(props, "id"),
		EntityID:  propString(props, "entity_id"),
		CreatedAt: propTime(props, "created_at"),
	}
	if raw := propString(props, "candidate"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.Candidate); err != nil {
			return nil, fmt.Errorf("failed to decode duplicate candidate: %w", err)
		}
	}
	if raw := propString(props, "record"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.Record); err != nil {
			return nil, fmt.Errorf("failed to decode candidate record: %w", err)
		}
	}
	return f, nil
}

func nodeProps(rec *neo4j.Record, key string) (map[string]interface{}, error) {
	raw, ok := rec.Get(key)
	if !ok {
		return nil, fmt.Errorf("missing %q in query result", key)
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected value for %q: %T", key, raw)
	}
	return node.Props, nil
}

func propString(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func propInt64(props map[string]interface{}, key string) int64 {
	n, _ := props[key].(int64)
	return n
}

func propFloat64(props map[string]interface{}, key string) float64 {
	f, _ := props[key].(float64)
	return f
}

func propBool(props map[string]interface{}, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func propTime(props map[string]interface{}, key string) time.Time {
	n, ok := props[key].(int64)
	if !ok || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func propStrings(props map[string]interface{}, key string) []string {
	raw, ok := props[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toVector(raw interface{}) []float32 {
	values, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	vec := make([]float32, 0, len(values))
	for _, v := range values {
		if f, ok := v.(float64); ok {
			vec = append(vec, float32(f))
		}
	}
	return vec
}

func toFloat64s(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
