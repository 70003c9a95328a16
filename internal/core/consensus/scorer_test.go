package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenthands/cobalt/internal/config"
)

func newTestScorer() *Scorer {
	return NewScorer(config.Default().Consensus)
}

func TestScoreMonotonicInSourceCount(t *testing.T) {
	s := newTestScorer()

	prev := -1.0
	for count := 1; count <= 12; count++ {
		score := s.Score(Input{SourceCount: count, OpenContradictions: 1})
		assert.GreaterOrEqual(t, score, prev, "source_count %d", count)
		prev = score
	}
}

func TestScoreMonotonicInContradictions(t *testing.T) {
	s := newTestScorer()

	prev := 2.0
	for open := 0; open <= 8; open++ {
		score := s.Score(Input{SourceCount: 4, OpenContradictions: open})
		assert.LessOrEqual(t, score, prev, "open contradictions %d", open)
		prev = score
	}
}

func TestSingleSourcePenalty(t *testing.T) {
	s := newTestScorer()

	one := s.Score(Input{SourceCount: 1})
	two := s.Score(Input{SourceCount: 2})
	assert.Less(t, one, two)

	// base 0.2 minus the 0.1 single-source penalty.
	assert.InDelta(t, 0.1, one, 1e-9)
}

func TestAgreementBonusCapped(t *testing.T) {
	s := newTestScorer()

	uncapped := s.Score(Input{SourceCount: 3, AgreedAttributes: 2})
	capped := s.Score(Input{SourceCount: 3, AgreedAttributes: 50})
	assert.Greater(t, uncapped, s.Score(Input{SourceCount: 3}))
	assert.InDelta(t, 0.6+0.15, capped, 1e-9)
}

func TestScoreClamped(t *testing.T) {
	s := newTestScorer()

	assert.Equal(t, 0.0, s.Score(Input{SourceCount: 1, OpenContradictions: 20}))
	assert.Equal(t, 1.0, s.Score(Input{SourceCount: 50, AgreedAttributes: 10}))
}

func TestDivisorCalibration(t *testing.T) {
	cfg := config.Default().Consensus
	cfg.SourceDivisor = 2
	s := NewScorer(cfg)

	// A small corpus with a divisor of 2 saturates at two sources.
	assert.InDelta(t, 1.0, s.Score(Input{SourceCount: 2}), 1e-9)
}
