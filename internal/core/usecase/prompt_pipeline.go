package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/core/ports"
)

// PromptPipeline answers a category without retrieval: the generator sees the
// category instruction followed by the query.
type PromptPipeline struct {
	category    domain.Category
	instruction string
	generator   ports.AnswerGenerator
}

func NewPromptPipeline(category domain.Category, instruction string, generator ports.AnswerGenerator) *PromptPipeline {
	return &PromptPipeline{
		category:    category,
		instruction: strings.TrimSpace(instruction),
		generator:   generator,
	}
}

func (p *PromptPipeline) Category() domain.Category {
	return p.category
}

func (p *PromptPipeline) Run(ctx context.Context, query string) (string, error) {
	prompt := "QUERY:\n" + query
	if p.instruction != "" {
		prompt = p.instruction + "\n\n" + prompt
	}
	answer, err := p.generator.GenerateFromPrompt(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s pipeline: %w", p.category, err)
	}
	return answer, nil
}
