// Package embed supplies vectors for semantic similarity through a tiered
// cache, shielding the rest of the engine from embedding-service latency,
// cost, and failures.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/llm"
	"github.com/agenthands/cobalt/internal/resilience"
	"github.com/agenthands/cobalt/internal/types"
)

// PersistentStore is the second cache tier, keyed by normalized-text hash.
// The backing datastore provides it; its concurrency guarantees are
// inherited.
type PersistentStore interface {
	GetCachedVector(ctx context.Context, hash string) ([]float32, error)
	PutCachedVector(ctx context.Context, hash string, vec []float32) error
}

// Cache resolves text to vectors through three tiers: an in-process map,
// the persistent store, then the external embedding service behind the
// resilience policy. Writes are idempotent; the same text always maps to
// the same vector, so concurrent recomputation is harmless.
type Cache struct {
	mu      sync.RWMutex
	vectors map[string][]float32

	persist  PersistentStore
	embedder llm.EmbedderClient
	policy   *resilience.Policy
	logger   *zap.Logger
}

// NewCache builds a cache with an explicit lifecycle: one per process,
// flushable between runs. persist may be nil (two-tier operation).
func NewCache(embedder llm.EmbedderClient, persist PersistentStore, policy *resilience.Policy, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		vectors:  make(map[string][]float32),
		persist:  persist,
		embedder: embedder,
		policy:   policy,
		logger:   logger,
	}
}

// Hash returns the cache key for a piece of text: SHA-256 of its normalized
// form, so trivially different spellings share a vector slot.
func Hash(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Vector resolves text to its embedding. While the circuit breaker is open
// it returns types.ErrNoVector immediately so callers degrade to
// lexical-only matching instead of stalling the pipeline.
func (c *Cache) Vector(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, types.ErrNoVector
	}
	key := Hash(text)

	c.mu.RLock()
	vec, ok := c.vectors[key]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	if c.persist != nil {
		vec, err := c.persist.GetCachedVector(ctx, key)
		if err != nil {
			c.logger.Debug("persistent cache lookup failed", zap.Error(err))
		} else if len(vec) > 0 {
			c.put(key, vec)
			return vec, nil
		}
	}

	vec, err := resilience.Do(ctx, c.policy, func(ctx context.Context) ([]float32, error) {
		return c.embedder.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return nil, types.ErrNoVector
		}
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedderUnavailable, err)
	}

	c.put(key, vec)
	if c.persist != nil {
		if err := c.persist.PutCachedVector(ctx, key, vec); err != nil {
			c.logger.Debug("persistent cache write failed", zap.Error(err))
		}
	}
	return vec, nil
}

// Degraded reports whether the breaker is open and lookups are being
// short-circuited.
func (c *Cache) Degraded() bool {
	return c.policy != nil && c.policy.Open()
}

// Flush clears the in-process tier. The persistent tier is untouched.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.vectors = make(map[string][]float32)
	c.mu.Unlock()
}

func (c *Cache) put(key string, vec []float32) {
	c.mu.Lock()
	c.vectors[key] = vec
	c.mu.Unlock()
}
