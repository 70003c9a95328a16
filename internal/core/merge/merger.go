// Package merge combines a duplicate group into one canonical entity. The
// merger is a pure function over its inputs: it never touches storage, so
// merge semantics are testable in isolation.
package merge

import (
	"strings"
	"time"

	"github.com/agenthands/cobalt/internal/core/consensus"
	"github.com/agenthands/cobalt/internal/core/dedupe"
	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/types"
)

type Merger struct {
	scorer            *similarity.Scorer
	contradictions    *dedupe.ContradictionDetector
	consensus         *consensus.Scorer
	sentenceThreshold float64
}

func NewMerger(scorer *similarity.Scorer, contradictions *dedupe.ContradictionDetector, cons *consensus.Scorer, sentenceThreshold float64) *Merger {
	return &Merger{
		scorer:            scorer,
		contradictions:    contradictions,
		consensus:         cons,
		sentenceThreshold: sentenceThreshold,
	}
}

// Merge absorbs others into primary and returns the merged entity plus any
// contradictions found between the group's sources. Inputs are not
// mutated. Already-known sources are no-ops: re-merging a member whose
// sources are all present leaves SourceIDs and SourceCount unchanged.
func (m *Merger) Merge(primary *types.Entity, others []*types.Entity, now time.Time) (*types.Entity, []types.Contradiction) {
	merged := primary.Clone()

	// Provenance: union of source ids in first-seen order.
	for _, o := range others {
		for _, src := range o.SourceIDs {
			if !merged.HasSource(src) {
				merged.SourceIDs = append(merged.SourceIDs, src)
			}
		}
	}
	merged.SourceCount = len(merged.SourceIDs)
	merged.IsConsolidated = merged.SourceCount > 1

	merged.Description = m.mergeDescriptions(primary, others)
	group := append([]*types.Entity{primary}, others...)
	merged.Attributes = m.mergeAttributes(group)

	contradictions, agreed := m.contradictions.Detect(merged.ID, group)
	for i := range contradictions {
		m.contradictions.Resolve(&contradictions[i])
	}

	open := 0
	for _, c := range contradictions {
		if c.Status == types.ContradictionOpen {
			open++
		}
	}
	merged.Confidence = m.consensus.Score(consensus.Input{
		SourceCount:        merged.SourceCount,
		AgreedAttributes:   agreed,
		OpenContradictions: open,
	})

	merged.UpdatedAt = now
	return merged, contradictions
}

// mergeDescriptions unions descriptions at sentence granularity, dropping
// sentences near-identical to one already kept.
func (m *Merger) mergeDescriptions(primary *types.Entity, others []*types.Entity) string {
	var kept []string

	add := func(desc string) {
		for _, sentence := range splitSentences(desc) {
			duplicate := false
			for _, k := range kept {
				if m.scorer.Lexical(sentence, k) >= m.sentenceThreshold {
					duplicate = true
					break
				}
			}
			if !duplicate {
				kept = append(kept, sentence)
			}
		}
	}

	add(primary.Description)
	for _, o := range others {
		add(o.Description)
	}
	return strings.Join(kept, " ")
}

// mergeAttributes merges key-by-key across the group. For each key the
// value reported by the most sources wins; on a tie the earliest group
// member (the primary first) keeps its value, and the disagreement is
// already recorded as a contradiction.
func (m *Merger) mergeAttributes(group []*types.Entity) map[string]string {
	merged := make(map[string]string)

	seen := make(map[string]bool)
	for _, member := range group {
		for key := range member.Attributes {
			if seen[key] {
				continue
			}
			seen[key] = true
			// A key whose every reported value is blank is dropped.
			if value := m.electValue(group, key); value != "" {
				merged[key] = value
			}
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func (m *Merger) electValue(group []*types.Entity, key string) string {
	type tally struct {
		value   string
		support int
	}
	index := make(map[string]int)
	var tallies []tally

	for _, member := range group {
		raw, ok := member.Attributes[key]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		norm := dedupe.NormalizeValue(raw)
		if i, ok := index[norm]; ok {
			tallies[i].support += len(member.SourceIDs)
			continue
		}
		index[norm] = len(tallies)
		tallies = append(tallies, tally{value: raw, support: len(member.SourceIDs)})
	}

	if len(tallies) == 0 {
		return ""
	}
	best := tallies[0]
	for _, t := range tallies[1:] {
		if t.support > best.support {
			best = t
		}
	}
	return best.value
}

// splitSentences is deliberately simple: descriptions are short extracted
// snippets, not prose.
func splitSentences(text string) []string {
	var sentences []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';'
	}) {
		s := strings.TrimSpace(part)
		if s != "" {
			sentences = append(sentences, s+".")
		}
	}
	return sentences
}
