package ports

import (
	"context"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

// Retriever is the inbound contract for grounding-context retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (string, error)
	Search(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error)
}

// PipelineHandler is the capability every category pipeline implements.
type PipelineHandler interface {
	Run(ctx context.Context, query string) (string, error)
}

// GroundedAnswerer is implemented by pipelines that can report their sources.
type GroundedAnswerer interface {
	Answer(ctx context.Context, query string) (*domain.Answer, error)
}

// QueryRouter classifies a task/context pair and dispatches it to a pipeline.
type QueryRouter interface {
	Route(ctx context.Context, task, contextText string) (*domain.RoutedAnswer, error)
}
