package dedupe

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/types"
)

// valueSynonyms maps attribute-value spellings that mean the same thing
// across sources, including cross-language reports from the same business.
var valueSynonyms = map[string]string{
	"diario":      "daily",
	"diaria":      "daily",
	"taglich":     "daily",
	"semanal":     "weekly",
	"wochentlich": "weekly",
	"mensal":      "monthly",
	"mensual":     "monthly",
	"monatlich":   "monthly",
	"trimestral":  "quarterly",
	"anual":       "yearly",
	"annual":      "yearly",
	"jahrlich":    "yearly",
	"alto":        "high",
	"alta":        "high",
	"hoch":        "high",
	"medio":       "medium",
	"media":       "medium",
	"mittel":      "medium",
	"bajo":        "low",
	"baja":        "low",
	"niedrig":     "low",
}

// ContradictionDetector compares attribute values across the sources
// feeding a candidate entity and flags disagreements that
// agreement-by-coincidence would miss.
type ContradictionDetector struct {
	scorer         *similarity.Scorer
	valueThreshold float64
}

func NewContradictionDetector(scorer *similarity.Scorer, valueThreshold float64) *ContradictionDetector {
	return &ContradictionDetector{
		scorer:         scorer,
		valueThreshold: valueThreshold,
	}
}

// NormalizeValue lowercases, trims, and folds known synonyms so
// "Daily"/"diario" compare equal.
func NormalizeValue(v string) string {
	norm := similarity.Normalize(v)
	if canonical, ok := valueSynonyms[norm]; ok {
		return canonical
	}
	return norm
}

// Detect walks the union of attribute keys across the group members. A
// missing attribute is enrichment, not disagreement: only two present
// values diverging beyond the similarity threshold record a contradiction.
// The second return value counts attributes on which every reporting source
// concurs, feeding the consensus agreement bonus.
func (c *ContradictionDetector) Detect(entityID string, members []*types.Entity) ([]types.Contradiction, int) {
	keys := attributeKeyUnion(members)

	var contradictions []types.Contradiction
	agreed := 0

	for _, key := range keys {
		values := collectValues(members, key)
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			// Single distinct value; counts as agreement only when more
			// than one source reported it.
			if len(values[0].SourceIDs) > 1 {
				agreed++
			}
			continue
		}

		minSim := 1.0
		conflict := false
		for i := 0; i < len(values); i++ {
			for j := i + 1; j < len(values); j++ {
				sim := c.scorer.Lexical(NormalizeValue(values[i].Value), NormalizeValue(values[j].Value))
				if sim < minSim {
					minSim = sim
				}
				if sim < c.valueThreshold {
					conflict = true
				}
			}
		}
		if !conflict {
			agreed++
			continue
		}

		contradictions = append(contradictions, types.Contradiction{
			ID:              uuid.New().String(),
			EntityID:        entityID,
			Attribute:       key,
			Values:          values,
			ValueSimilarity: minSim,
			Status:          types.ContradictionOpen,
			CreatedAt:       time.Now().UTC(),
		})
	}

	return contradictions, agreed
}

// Resolve applies the most-common-value heuristic: the value reported by
// the most sources wins. Ties stay open for manual review rather than being
// broken arbitrarily.
func (c *ContradictionDetector) Resolve(con *types.Contradiction) {
	if len(con.Values) == 0 {
		return
	}
	best, tie := mostSupported(con.Values)
	if tie {
		return
	}
	con.Status = types.ContradictionResolved
	con.Resolution = best
}

// mostSupported returns the value backed by the most sources, and whether
// the top support count is shared.
func mostSupported(values []types.ConflictingValue) (string, bool) {
	best := values[0]
	tie := false
	for _, v := range values[1:] {
		switch {
		case len(v.SourceIDs) > len(best.SourceIDs):
			best = v
			tie = false
		case len(v.SourceIDs) == len(best.SourceIDs):
			tie = true
		}
	}
	return best.Value, tie
}

func attributeKeyUnion(members []*types.Entity) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range members {
		for k := range m.Attributes {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// collectValues groups member attribute values by normalized form,
// carrying the sources that reported each distinct value. Members without
// the attribute contribute nothing.
func collectValues(members []*types.Entity, key string) []types.ConflictingValue {
	index := make(map[string]int)
	var values []types.ConflictingValue

	for _, m := range members {
		raw, ok := m.Attributes[key]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		norm := NormalizeValue(raw)
		if i, ok := index[norm]; ok {
			values[i].SourceIDs = append(values[i].SourceIDs, m.SourceIDs...)
			continue
		}
		index[norm] = len(values)
		values = append(values, types.ConflictingValue{
			Value:     raw,
			SourceIDs: append([]string(nil), m.SourceIDs...),
		})
	}
	return values
}
