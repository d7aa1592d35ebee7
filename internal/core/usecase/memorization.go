package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/core/ports"
)

// RAGObserver is notified after each successful grounded answer.
type RAGObserver interface {
	RecordRAGObservation(category string, sourceCount int, duration time.Duration)
}

// MemorizationPipeline answers factual-recall queries from the vector index:
// retrieval completes before generation starts, and any error ends the run.
type MemorizationPipeline struct {
	retriever ports.Retriever
	generator ports.AnswerGenerator
	topK      int
	observer  RAGObserver
}

func NewMemorizationPipeline(
	retriever ports.Retriever,
	generator ports.AnswerGenerator,
	topK int,
	observer RAGObserver,
) *MemorizationPipeline {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &MemorizationPipeline{
		retriever: retriever,
		generator: generator,
		topK:      topK,
		observer:  observer,
	}
}

func (p *MemorizationPipeline) Answer(ctx context.Context, query string) (*domain.Answer, error) {
	start := time.Now()

	chunks, err := p.retriever.Search(ctx, query, p.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	answerText, err := p.generator.GenerateAnswer(ctx, query, FormatContext(chunks))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	if p.observer != nil {
		p.observer.RecordRAGObservation(string(domain.CategoryMemorization), len(chunks), time.Since(start))
	}
	return &domain.Answer{
		Category: domain.CategoryMemorization,
		Text:     answerText,
		Sources:  chunks,
	}, nil
}

func (p *MemorizationPipeline) Run(ctx context.Context, query string) (string, error) {
	answer, err := p.Answer(ctx, query)
	if err != nil {
		return "", err
	}
	return answer.Text, nil
}
