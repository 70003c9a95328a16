// Package consensus computes the confidence score for a (possibly merged)
// entity from its corroboration across sources. The scorer is pure so it
// can be calibrated and tested without a datastore.
package consensus

import (
	"math"

	"github.com/agenthands/cobalt/internal/config"
)

// Input is everything the score depends on.
type Input struct {
	SourceCount        int
	AgreedAttributes   int
	OpenContradictions int
}

type Scorer struct {
	cfg config.ConsensusConfig
}

func NewScorer(cfg config.ConsensusConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score returns a confidence in [0,1].
//
// base = min(source_count / divisor, 1) — the divisor is calibrated to the
// expected corpus size so that a plausible maximum source count approaches
// 1.0 rather than leaving every entity permanently low-confidence in a
// small corpus. Agreement across all sources on an attribute earns a capped
// additive bonus; each open contradiction subtracts a fixed penalty; a
// single-source entity takes an extra penalty because a lone mention is
// unvalidated.
func (s *Scorer) Score(in Input) float64 {
	divisor := s.cfg.SourceDivisor
	if divisor <= 0 {
		divisor = 1
	}

	base := math.Min(float64(in.SourceCount)/divisor, 1.0)

	bonus := float64(in.AgreedAttributes) * s.cfg.AgreementBonus
	if bonus > s.cfg.AgreementBonusCap {
		bonus = s.cfg.AgreementBonusCap
	}

	penalty := float64(in.OpenContradictions) * s.cfg.ContradictionPenalty
	if in.SourceCount <= 1 {
		penalty += s.cfg.SingleSourcePenalty
	}

	score := base + bonus - penalty
	return math.Max(0, math.Min(1, score))
}
