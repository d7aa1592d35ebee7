// Package hashing provides a deterministic bag-of-words embedder. It needs no
// model files, which makes it suitable for tests and for running the service
// without ONNX Runtime.
package hashing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/embedding"
)

// ModelName is recorded in indexes built with this embedder.
const ModelName = "hashing-v1"

type Embedder struct {
	dimensions int
}

func New(dimensions int) (*Embedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Embedder{dimensions: dimensions}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// EmbedQuery hashes lower-cased alphanumeric tokens into signed buckets and
// L2-normalises the result.
func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", errors.New("text has no tokens"))
	}
	vec := make([]float32, e.dimensions)
	for _, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimensions))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	embedding.NormalizeL2(vec)
	return vec, nil
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) Name() string {
	return ModelName
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
