// Package cache memoises query embeddings in front of another embedder.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/cti-assistant/internal/core/ports"
)

type Embedder struct {
	next  ports.Embedder
	cache *lru.Cache[string, []float32]
}

// New wraps next with an LRU of size entries. Only EmbedQuery is cached;
// batch Embed calls come from the offline index build and pass straight through.
func New(next ports.Embedder, size int) (*Embedder, error) {
	if next == nil {
		return nil, fmt.Errorf("next embedder is required")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{next: next, cache: cache}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.next.Embed(ctx, texts)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return clone(vec), nil
	}
	vec, err := e.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, clone(vec))
	return vec, nil
}

func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

func (e *Embedder) Len() int {
	return e.cache.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
