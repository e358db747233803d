package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ollama/ollama/api"

	"autopost/internal/cache"
	"autopost/internal/normalize"
)

// Embedder turns normalized text into a vector for cosine comparison. A nil
// or failing embedder degrades the index to token similarity; it never fails
// an item.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type OllamaEmbedder struct {
	client  *api.Client
	model   string
	timeout time.Duration
}

func NewOllamaEmbedder(model string, timeout time.Duration) (*OllamaEmbedder, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model cannot be empty")
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &OllamaEmbedder{client: client, model: model, timeout: timeout}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	return resp.Embedding, nil
}

// CachedEmbedder fronts an Embedder with a cache keyed by content hash, so
// crash-recovery replays do not re-pay the embedding call.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, c cache.Cache, ttl time.Duration) *CachedEmbedder {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{inner: inner, cache: c, ttl: ttl}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := "emb:" + normalize.ContentHash(text)

	if raw, ok := e.cache.Get(ctx, key); ok {
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err == nil {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		e.cache.Set(ctx, key, string(raw), e.ttl)
	}
	return vec, nil
}
