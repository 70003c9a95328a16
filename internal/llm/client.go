package llm

import (
	"context"
)

// EmbedderClient is the boundary to the external embedding service. It is
// treated as an unreliable network dependency; retry and circuit-breaker
// policy live with the caller, not here.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
