// Package openai talks to an OpenAI-compatible chat completions endpoint for
// query classification and answer generation.
package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/resilience"
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// UsageRecorder receives token counts reported by the completion service.
type UsageRecorder interface {
	RecordTokenUsage(operation, model string, promptTokens, completionTokens int)
}

type Client struct {
	api   sdk.Client
	guard *resilience.Guard
	usage UsageRecorder
}

var errEmptyCompletion = errors.New("completion returned no content")

// New builds a client that never retries on its own. The guard may be nil.
func New(cfg Config, guard *resilience.Guard, usage UsageRecorder) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:   sdk.NewClient(opts...),
		guard: guard,
		usage: usage,
	}
}

type completion struct {
	operation   string
	model       string
	system      string
	user        string
	temperature float64
	maxTokens   int
}

func (c *Client) complete(ctx context.Context, req completion) (string, error) {
	return resilience.Call(ctx, c.guard, req.operation, func(ctx context.Context) (string, error) {
		messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
		if req.system != "" {
			messages = append(messages, sdk.SystemMessage(req.system))
		}
		messages = append(messages, sdk.UserMessage(req.user))

		params := sdk.ChatCompletionNewParams{
			Model:       shared.ChatModel(req.model),
			Messages:    messages,
			Temperature: sdk.Float(req.temperature),
		}
		if req.maxTokens > 0 {
			params.MaxTokens = sdk.Int(int64(req.maxTokens))
		}

		start := time.Now()
		resp, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		slog.DebugContext(ctx, "completion_finished",
			"operation", req.operation,
			"model", req.model,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
		)
		if c.usage != nil {
			c.usage.RecordTokenUsage(req.operation, req.model, int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens))
		}
		if len(resp.Choices) == 0 {
			return "", errEmptyCompletion
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}, isUpstreamFailure)
}

type GeneratorConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Generator struct {
	client  *Client
	cfg     GeneratorConfig
	prompts Prompts
}

func NewGenerator(client *Client, cfg GeneratorConfig, prompts Prompts) *Generator {
	return &Generator{client: client, cfg: cfg, prompts: prompts}
}

// GenerateAnswer fills the grounding template with the retrieved context and
// the query. Empty model output is a generation failure.
func (g *Generator) GenerateAnswer(ctx context.Context, query, contextText string) (string, error) {
	return g.generate(ctx, "generate_answer", g.prompts.renderMemorization(query, contextText))
}

func (g *Generator) GenerateFromPrompt(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, "generate_from_prompt", prompt)
}

func (g *Generator) generate(ctx context.Context, operation, prompt string) (string, error) {
	text, err := g.client.complete(ctx, completion{
		operation:   operation,
		model:       g.cfg.Model,
		user:        prompt,
		temperature: g.cfg.Temperature,
		maxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return "", wrapCompletionError(ctx, domain.ErrGeneration, operation, err)
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrGeneration, operation, errEmptyCompletion)
	}
	return text, nil
}

type ClassifierConfig struct {
	Model     string
	MaxTokens int
}

type Classifier struct {
	client  *Client
	cfg     ClassifierConfig
	prompts Prompts
}

func NewClassifier(client *Client, cfg ClassifierConfig, prompts Prompts) *Classifier {
	return &Classifier{client: client, cfg: cfg, prompts: prompts}
}

// Classify asks the model for a single category label. Labels outside the known
// set resolve to domain.DefaultCategory with Fallback set.
func (c *Classifier) Classify(ctx context.Context, task, contextText string) (domain.Classification, error) {
	raw, err := c.client.complete(ctx, completion{
		operation:   "classify",
		model:       c.cfg.Model,
		system:      c.prompts.Classifier,
		user:        strings.TrimSpace(task) + "\n\n" + strings.TrimSpace(contextText),
		temperature: 0,
		maxTokens:   c.cfg.MaxTokens,
	})
	if err != nil && !errors.Is(err, errEmptyCompletion) {
		return domain.Classification{}, wrapCompletionError(ctx, domain.ErrClassification, "classify", err)
	}

	category, ok := domain.ParseCategory(raw)
	if !ok {
		slog.WarnContext(ctx, "classifier_fallback", "raw_label", raw, "category", domain.DefaultCategory)
		return domain.Classification{Category: domain.DefaultCategory, Raw: raw, Fallback: true}, nil
	}
	return domain.Classification{Category: category, Raw: raw}, nil
}
