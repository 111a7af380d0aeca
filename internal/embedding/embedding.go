// Package embedding turns text into vectors for the index and for queries.
//
// A Generator never returns errors: a failed call yields no vector and the
// caller carries on without it, so one bad chunk cannot abort a file or a
// repository pass.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/internal/ai"
	"golang.org/x/time/rate"
)

// Embedder is the narrow surface the indexer and the retrieval service need.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
	Dim() int
}

// Options configures a Generator.
type Options struct {
	// RequestsPerMinute caps calls to the provider. 0 disables the limit.
	RequestsPerMinute int
	// Burst is the token bucket size; defaults to 1 when limiting.
	Burst int
	// CacheSize is the number of vectors remembered by text hash. 0 disables caching.
	CacheSize int
}

// Generator wraps an ai.Client with rate limiting and a small cache.
type Generator struct {
	client  ai.Client
	limiter *rate.Limiter
	cache   *lru.Cache[string, []float32]
}

// New creates a Generator around client.
func New(client ai.Client, opts Options) (*Generator, error) {
	g := &Generator{client: client}

	if opts.RequestsPerMinute > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), burst)
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []float32](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		g.cache = cache
	}
	return g, nil
}

// Embed returns the vector for text, or false if none could be produced.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, bool) {
	var key string
	if g.cache != nil {
		sum := sha256.Sum256([]byte(text))
		key = hex.EncodeToString(sum[:])
		if v, ok := g.cache.Get(key); ok {
			return v, true
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("embedding rate limiter wait failed")
			return nil, false
		}
	}

	vec, err := g.client.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Int("chars", len(text)).Msg("embedding failed")
		return nil, false
	}
	if len(vec) == 0 {
		log.Warn().Msg("embedding provider returned an empty vector")
		return nil, false
	}
	if dim := g.client.Dim(); dim > 0 && len(vec) != dim {
		log.Warn().Int("want", dim).Int("got", len(vec)).Msg("embedding dimension mismatch")
		return nil, false
	}

	if g.cache != nil {
		g.cache.Add(key, vec)
	}
	return vec, true
}

// Dim is the fixed vector length produced by the underlying model.
func (g *Generator) Dim() int {
	return g.client.Dim()
}
