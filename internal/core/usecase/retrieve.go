package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/core/ports"
)

// DefaultTopK is the number of chunks retrieved when the caller passes k <= 0.
const DefaultTopK = 5

type RetrieveUseCase struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	chunks   ports.ChunkStore
	topK     int
}

func NewRetrieveUseCase(
	embedder ports.Embedder,
	index ports.VectorIndex,
	chunks ports.ChunkStore,
	topK int,
) *RetrieveUseCase {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &RetrieveUseCase{
		embedder: embedder,
		index:    index,
		chunks:   chunks,
		topK:     topK,
	}
}

// Search returns up to k chunks ordered by descending similarity to query.
// An empty index yields no chunks and no error.
func (uc *RetrieveUseCase) Search(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	if k <= 0 {
		k = uc.topK
	}
	if uc.index.Size() == 0 {
		return nil, nil
	}

	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := uc.index.Search(ctx, queryVector, k)
	if err != nil {
		return nil, fmt.Errorf("search vector index: %w", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, err := uc.chunks.Lookup(hit.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("resolve chunk %s: %w", hit.ChunkID, err)
		}
		out = append(out, domain.RetrievedChunk{
			ChunkID:   chunk.ID,
			SourceURL: chunk.Source(),
			Text:      chunk.Text,
			Score:     hit.Score,
		})
	}
	return out, nil
}

// Retrieve returns the formatted grounding context for query.
func (uc *RetrieveUseCase) Retrieve(ctx context.Context, query string, k int) (string, error) {
	chunks, err := uc.Search(ctx, query, k)
	if err != nil {
		return "", err
	}
	return FormatContext(chunks), nil
}

// FormatContext renders chunks as "Source: ...\nContent: ..." blocks separated
// by a blank line, in the given order.
func FormatContext(chunks []domain.RetrievedChunk) string {
	blocks := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		source := chunk.SourceURL
		if source == "" {
			source = domain.UnknownSource
		}
		blocks = append(blocks, "Source: "+source+"\nContent: "+chunk.Text)
	}
	return strings.Join(blocks, "\n\n")
}
