// Package dedupe finds near-duplicate entities and the contradictions
// hiding inside candidate duplicate groups.
package dedupe

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/cobalt/internal/config"
	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/types"
)

// VectorSource supplies embeddings for semantic scoring. A failed lookup
// degrades the candidate to lexical-only; it never fails detection.
type VectorSource interface {
	Vector(ctx context.Context, text string) ([]float32, error)
}

// Detector ranks pool entities by similarity to an incoming entity using a
// cheap lexical pre-filter before any expensive semantic lookup. The
// two-stage filter bounds external embedding calls to the top-K lexical
// survivors instead of the whole pool.
type Detector struct {
	scorer  *similarity.Scorer
	vectors VectorSource
	cfg     config.SimilarityConfig
	logger  *zap.Logger
}

func NewDetector(scorer *similarity.Scorer, vectors VectorSource, cfg config.SimilarityConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		scorer:  scorer,
		vectors: vectors,
		cfg:     cfg,
		logger:  logger,
	}
}

type scored struct {
	entity  *types.Entity
	lexical float64
}

// FindCandidates scores incoming against every same-type pool member and
// returns candidates at or above the prefilter floor, ordered by combined
// score descending, each carrying an auto_merge / manual_review / reject
// decision.
func (d *Detector) FindCandidates(ctx context.Context, incoming *types.Entity, pool []*types.Entity) ([]types.DuplicateCandidate, error) {
	thresholds := d.scorer.Thresholds(incoming.Type)

	// Stage 1: lexical pre-filter. Cheap, runs against the whole pool.
	var survivors []scored
	for _, e := range pool {
		if e.Type != incoming.Type || e.ID == incoming.ID {
			continue
		}
		lex := d.scorer.Lexical(incoming.Name, e.Name)
		if lex < d.cfg.PrefilterFloor {
			continue
		}
		survivors = append(survivors, scored{entity: e, lexical: lex})
	}
	if len(survivors) == 0 {
		return nil, nil
	}

	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].lexical > survivors[j].lexical
	})
	if d.cfg.TopK > 0 && len(survivors) > d.cfg.TopK {
		survivors = survivors[:d.cfg.TopK]
	}

	// Stage 2: semantic scoring for survivors that need it.
	semantics, degraded := d.semanticScores(ctx, incoming, survivors)

	// Stage 3: combine and decide.
	candidates := make([]types.DuplicateCandidate, 0, len(survivors))
	for i, sv := range survivors {
		cand := types.DuplicateCandidate{
			EntityAID: incoming.ID,
			EntityBID: sv.entity.ID,
			Lexical:   sv.lexical,
			Semantic:  semantics[i],
			Degraded:  degraded[i],
		}
		cand.Combined = d.scorer.Combined(cand.Lexical, cand.Semantic)

		switch {
		case cand.Combined >= thresholds.MergeThreshold:
			cand.Decision = types.DecisionAutoMerge
		case cand.Combined >= thresholds.MergeThreshold-thresholds.ReviewBand:
			cand.Decision = types.DecisionManualReview
		default:
			cand.Decision = types.DecisionReject
		}
		candidates = append(candidates, cand)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Combined > candidates[j].Combined
	})
	return candidates, nil
}

// semanticScores fetches vectors for the survivors in parallel. Lookups are
// skipped entirely for pairs whose lexical score already clears the
// short-circuit threshold.
func (d *Detector) semanticScores(ctx context.Context, incoming *types.Entity, survivors []scored) ([]*float64, []bool) {
	semantics := make([]*float64, len(survivors))
	degraded := make([]bool, len(survivors))

	needed := false
	for _, sv := range survivors {
		if sv.lexical < d.scorer.ShortCircuit() {
			needed = true
			break
		}
	}
	if !needed || d.vectors == nil {
		return semantics, degraded
	}

	incomingVec, err := d.vectors.Vector(ctx, incoming.TextRepresentation())
	if err != nil {
		d.logDegraded(err)
		for i, sv := range survivors {
			if sv.lexical < d.scorer.ShortCircuit() {
				degraded[i] = true
			}
		}
		return semantics, degraded
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, sv := range survivors {
		if sv.lexical >= d.scorer.ShortCircuit() {
			continue
		}
		g.Go(func() error {
			vec := sv.entity.Embedding
			if len(vec) == 0 {
				var err error
				vec, err = d.vectors.Vector(gctx, sv.entity.TextRepresentation())
				if err != nil {
					d.logDegraded(err)
					mu.Lock()
					degraded[i] = true
					mu.Unlock()
					return nil
				}
			}
			sem := similarity.Cosine(incomingVec, vec)
			mu.Lock()
			semantics[i] = &sem
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return semantics, degraded
}

func (d *Detector) logDegraded(err error) {
	if errors.Is(err, types.ErrNoVector) {
		// Breaker open: expected while the embedding service cools down.
		return
	}
	d.logger.Warn("semantic lookup failed, degrading to lexical", zap.Error(err))
}
