package ports

import (
	"context"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

// Embedder builds fixed-dimension vectors for chunk and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// VectorIndex performs k-nearest-neighbour search over the loaded index.
// Implementations are read-only after load and safe for concurrent use.
type VectorIndex interface {
	Search(ctx context.Context, queryVector []float32, k int) ([]domain.IndexHit, error)
	IDs() []string
	Size() int
}

// ChunkStore resolves chunk identities to text and provenance.
type ChunkStore interface {
	Lookup(id string) (domain.Chunk, error)
	Len() int
}

// AnswerGenerator calls the text-completion service.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, query, contextText string) (string, error)
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
}

// QueryClassifier assigns a CTI category to a task/context pair.
type QueryClassifier interface {
	Classify(ctx context.Context, task, contextText string) (domain.Classification, error)
}

// ChunkLister enumerates every chunk of the metadata file in order.
type ChunkLister interface {
	Chunks() []domain.Chunk
}

// IndexWriter accumulates vectors during the offline build and persists them.
type IndexWriter interface {
	Add(ids []string, vectors [][]float32) error
	Save(dir string) error
}
