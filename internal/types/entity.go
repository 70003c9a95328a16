package types

import (
	"time"
)

// Entity is a consolidated record of a real-world thing mentioned by one or
// more source documents. Entities are created on first sighting of a
// type+name with no close match and mutated in place by merges; they are
// never deleted.
//
// Invariants: SourceCount == len(SourceIDs); IsConsolidated == SourceCount > 1.
type Entity struct {
	ID          string            `json:"id"`
	Type        EntityType        `json:"entity_type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	SourceCount int               `json:"source_count"`
	SourceIDs   []string          `json:"source_ids"`
	Confidence  float64           `json:"consensus_confidence"`

	IsConsolidated bool `json:"is_consolidated"`

	// MergedInto is set on an entity absorbed by a merge; absorbed entities
	// stay in storage for provenance but drop out of candidate pools and
	// consolidated views.
	MergedInto string `json:"merged_into,omitempty"`

	// Embedding is the cached vector for the entity's text representation.
	// Vectors may be recomputed or evicted without affecting entity identity.
	Embedding []float32 `json:"embedding,omitempty"`

	// SemanticVerified is false when the entity's latest consolidation was
	// scored lexical-only because the embedding service was degraded.
	SemanticVerified bool `json:"semantic_verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CandidateRecord is the ingress contract: one extracted mention of an
// entity, as produced by the upstream extraction pipeline.
type CandidateRecord struct {
	EntityType  string            `json:"entity_type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	SourceID    string            `json:"source_id"`
}

// TextRepresentation is the string compared and embedded for similarity
// purposes: the name plus description when present.
func (e *Entity) TextRepresentation() string {
	if e.Description == "" {
		return e.Name
	}
	return e.Name + ". " + e.Description
}

// HasSource reports whether the given source document already contributed
// to this entity.
func (e *Entity) HasSource(sourceID string) bool {
	for _, id := range e.SourceIDs {
		if id == sourceID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Merge and snapshot logic must never alias the
// stored entity's maps or slices.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Attributes != nil {
		c.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	c.SourceIDs = append([]string(nil), e.SourceIDs...)
	c.Embedding = append([]float32(nil), e.Embedding...)
	return &c
}
