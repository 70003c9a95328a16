// Package similarity provides the lexical and semantic scoring primitives
// used by duplicate detection, contradiction checks, and sentence-level
// description merging.
package similarity

import (
	"math"
	"strings"
	"unicode"

	"github.com/agenthands/cobalt/internal/config"
	"github.com/agenthands/cobalt/internal/types"
)

type Scorer struct {
	cfg config.SimilarityConfig
}

func NewScorer(cfg config.SimilarityConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Normalize lowercases, strips punctuation, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Lexical scores two strings in [0,1] as the better of normalized edit
// distance and token overlap. Edit distance catches spelling variants,
// token overlap catches word reordering ("Excel MS" vs "MS Excel").
func (s *Scorer) Lexical(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0
	}
	lev := levenshteinSimilarity(na, nb)
	jac := tokenJaccard(na, nb)
	return math.Max(lev, jac)
}

// Cosine rescales vector cosine similarity from [-1,1] to [0,1].
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		da, db := float64(a[i]), float64(b[i])
		dot += da * db
		normA += da * da
		normB += db * db
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

// ShortCircuit is the lexical score above which the semantic lookup is
// skipped entirely: a near-certain duplicate that saves an external call.
func (s *Scorer) ShortCircuit() float64 {
	return s.cfg.ShortCircuit
}

// Combined folds lexical and semantic scores per policy. With no semantic
// score the lexical score stands alone. Otherwise the default is the
// maximum of the two; a configured semantic weight switches to a blend.
func (s *Scorer) Combined(lexical float64, semantic *float64) float64 {
	if semantic == nil {
		return lexical
	}
	if w := s.cfg.SemanticWeight; w > 0 {
		return w**semantic + (1-w)*lexical
	}
	return math.Max(lexical, *semantic)
}

// Thresholds returns the decision thresholds for an entity type's class.
func (s *Scorer) Thresholds(t types.EntityType) config.ClassThresholds {
	if t.SchemaFor().Class == types.ClassNameStrict {
		return s.cfg.NameStrict
	}
	return s.cfg.NameTolerant
}

func levenshteinSimilarity(a, b string) float64 {
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) < len(b) {
		a, b = b, a
	}

	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		previous[j] = j
	}

	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			current[j] = min3(previous[j]+1, current[j-1]+1, previous[j-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(b)]
}

func tokenJaccard(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, tok := range ta {
		set[tok] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, tok := range tb {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if set[tok] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
