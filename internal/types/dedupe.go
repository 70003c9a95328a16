package types

// Decision is the outcome assigned to a duplicate candidate.
type Decision string

const (
	DecisionAutoMerge    Decision = "auto_merge"
	DecisionManualReview Decision = "manual_review"
	DecisionReject       Decision = "reject"
)

// DuplicateCandidate is one scored pairing between an incoming record and an
// existing pool entity. Ephemeral: produced per detection call and not
// persisted except as it feeds an audit record or review flag.
type DuplicateCandidate struct {
	EntityAID string   `json:"entity_a_id"`
	EntityBID string   `json:"entity_b_id"`
	Lexical   float64  `json:"lexical_score"`
	Semantic  *float64 `json:"semantic_score,omitempty"`
	Combined  float64  `json:"combined_score"`
	Decision  Decision `json:"decision"`

	// Degraded marks a candidate scored lexical-only because the embedding
	// service was unavailable at detection time.
	Degraded bool `json:"degraded,omitempty"`
}
