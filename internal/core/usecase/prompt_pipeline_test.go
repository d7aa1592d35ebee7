package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

func TestPromptPipelineSendsInstructionAndQuery(t *testing.T) {
	generator := &generatorFake{}
	p := NewPromptPipeline(domain.CategoryProblemSolving, "  Compute the CVSS score.  ", generator)

	answer, err := p.Run(context.Background(), "AV:N/AC:L")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if answer != "prompt answer" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if generator.prompt != "Compute the CVSS score.\n\nQUERY:\nAV:N/AC:L" {
		t.Fatalf("unexpected prompt: %q", generator.prompt)
	}
	if p.Category() != domain.CategoryProblemSolving {
		t.Fatalf("unexpected category: %s", p.Category())
	}
}

func TestPromptPipelineWrapsGeneratorError(t *testing.T) {
	genErr := domain.WrapError(domain.ErrGeneration, "generate", errors.New("boom"))
	p := NewPromptPipeline(domain.CategoryReasoningATE, "", &generatorFake{err: genErr})

	_, err := p.Run(context.Background(), "q")
	if !errors.Is(err, genErr) || !strings.Contains(err.Error(), "reasoning_ate") {
		t.Fatalf("unexpected error: %v", err)
	}
}
