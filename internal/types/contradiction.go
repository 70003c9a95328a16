package types

import "time"

// ContradictionStatus tracks whether a detected disagreement has been
// settled.
type ContradictionStatus string

const (
	ContradictionOpen     ContradictionStatus = "open"
	ContradictionResolved ContradictionStatus = "resolved"
)

// ConflictingValue is one attribute value together with the sources that
// reported it.
type ConflictingValue struct {
	Value     string   `json:"value"`
	SourceIDs []string `json:"source_ids"`
}

// Contradiction records a disagreement between sources on the same attribute
// of the same entity. It persists attached to its entity until resolved,
// either by the most-common-value heuristic or by manual override.
type Contradiction struct {
	ID        string             `json:"id"`
	EntityID  string             `json:"entity_id"`
	Attribute string             `json:"attribute"`
	Values    []ConflictingValue `json:"conflicting_values"`

	// ValueSimilarity is the similarity of the two most divergent values,
	// kept for review ranking.
	ValueSimilarity float64 `json:"similarity_of_values"`

	Status     ContradictionStatus `json:"status"`
	Resolution string              `json:"resolution,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}
