package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/cti-assistant/internal/config"
	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/core/ports"
	"github.com/kirillkom/cti-assistant/internal/core/usecase"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/chunkstore/jsonfile"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/embedding/cache"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/embedding/onnx"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/vector/flat"
	"github.com/kirillkom/cti-assistant/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.HTTPServerMetrics

	Retriever *usecase.RetrieveUseCase
	Registry  *usecase.Registry
	Router    *usecase.Router

	closeFn func()
}

// New loads the index and chunk metadata once and wires every pipeline. Both
// stores are read-only afterwards and shared by all requests.
func New(ctx context.Context, cfg config.Config, httpMetrics *metrics.HTTPServerMetrics) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	index, chunks, err := LoadStores(cfg, embedder.Dimensions(), embedder.model)
	if err != nil {
		embedder.Close()
		return nil, err
	}
	slog.Info("index_loaded", "path", cfg.IndexPath, "chunks", index.Size(), "model", index.Model())
	if httpMetrics != nil {
		httpMetrics.SetIndexChunks(index.Size())
	}

	var queryEmbedder ports.Embedder = embedder
	if cfg.EmbedCacheSize > 0 {
		cached, err := cache.New(embedder, cfg.EmbedCacheSize)
		if err != nil {
			embedder.Close()
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
		queryEmbedder = cached
	}

	prompts, err := openai.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	policy := resilience.DefaultPolicy()
	policy.Enabled = cfg.BreakerEnabled
	policy.MinRequests = uint32(max(cfg.BreakerMinRequests, 0))
	policy.FailureRatio = cfg.BreakerFailureRatio
	policy.OpenTimeout = cfg.BreakerOpenTimeout
	guard := resilience.NewGuard(policy)
	var usage openai.UsageRecorder
	var ragObserver usecase.RAGObserver
	var routeObserver usecase.RouteObserver
	if httpMetrics != nil {
		guard.OnStateChange(httpMetrics.RecordBreakerState)
		usage = httpMetrics
		ragObserver = httpMetrics
		routeObserver = httpMetrics
	}

	llmClient := openai.New(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.OpenAITimeout,
	}, guard, usage)
	generator := openai.NewGenerator(llmClient, openai.GeneratorConfig{
		Model:       cfg.GeneratorModel,
		Temperature: cfg.GeneratorTemperature,
		MaxTokens:   cfg.GeneratorMaxTokens,
	}, prompts)
	classifier := openai.NewClassifier(llmClient, openai.ClassifierConfig{
		Model:     cfg.ClassifierModel,
		MaxTokens: cfg.ClassifierMaxTokens,
	}, prompts)

	retriever := usecase.NewRetrieveUseCase(queryEmbedder, index, chunks, cfg.RAGTopK)
	registry, err := NewRegistry(retriever, generator, prompts, cfg.RAGTopK, ragObserver)
	if err != nil {
		embedder.Close()
		return nil, err
	}

	return &App{
		Config:    cfg,
		Metrics:   httpMetrics,
		Retriever: retriever,
		Registry:  registry,
		Router:    usecase.NewRouter(classifier, registry, routeObserver),
		closeFn:   embedder.Close,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// NewRegistry registers the memorization pipeline and one prompt pipeline per
// remaining category.
func NewRegistry(
	retriever ports.Retriever,
	generator ports.AnswerGenerator,
	prompts openai.Prompts,
	topK int,
	observer usecase.RAGObserver,
) (*usecase.Registry, error) {
	registry := usecase.NewRegistry()
	for _, category := range domain.Categories() {
		var handler ports.PipelineHandler
		if category == domain.CategoryMemorization {
			handler = usecase.NewMemorizationPipeline(retriever, generator, topK, observer)
		} else {
			handler = usecase.NewPromptPipeline(category, prompts.Instruction(category), generator)
		}
		if err := registry.Register(category, handler); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Embedder carries the model name recorded in index headers.
type Embedder struct {
	ports.Embedder
	model   string
	closeFn func()
}

func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// NewEmbedder builds the embedding backend selected by EMBED_BACKEND.
func NewEmbedder(ctx context.Context, cfg config.Config) (*Embedder, error) {
	switch cfg.EmbedBackend {
	case config.EmbedBackendHashing:
		e, err := hashing.New(cfg.EmbedDimensions)
		if err != nil {
			return nil, domain.WrapError(domain.ErrEmbedding, "init hashing embedder", err)
		}
		return &Embedder{Embedder: e, model: hashing.ModelName}, nil
	default:
		e, err := onnx.New(ctx, onnx.Config{
			ModelPath:      cfg.EmbedModelPath,
			ModelRepo:      cfg.EmbedModelRepo,
			CacheDir:       cfg.ModelCacheDir,
			Name:           cfg.EmbedModelName,
			Dimensions:     cfg.EmbedDimensions,
			OrtLibraryPath: cfg.ORTLibraryPath,
		})
		if err != nil {
			return nil, err
		}
		return &Embedder{
			Embedder: e,
			model:    cfg.EmbedModelName,
			closeFn:  func() { _ = e.Close() },
		}, nil
	}
}

// LoadStores loads the vector index and the chunk metadata and verifies that
// they describe the same chunks.
func LoadStores(cfg config.Config, dimensions int, model string) (*flat.Index, *jsonfile.Store, error) {
	index, err := flat.Load(cfg.IndexPath, dimensions, model)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := jsonfile.Load(cfg.ChunksPath)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckConsistency(index, chunks); err != nil {
		return nil, nil, err
	}
	return index, chunks, nil
}

// CheckConsistency fails with domain.ErrChunkNotFound unless index entries and
// metadata chunks map 1:1: every index id is unique and resolves, and both hold
// the same number of chunks.
func CheckConsistency(index ports.VectorIndex, chunks ports.ChunkStore) error {
	ids := index.IDs()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return domain.WrapError(
				domain.ErrChunkNotFound,
				"check index consistency",
				fmt.Errorf("index holds chunk id %q more than once", id),
			)
		}
		seen[id] = struct{}{}
		if _, err := chunks.Lookup(id); err != nil {
			return fmt.Errorf("index entry without metadata: %w", err)
		}
	}
	if len(seen) != chunks.Len() {
		return domain.WrapError(
			domain.ErrChunkNotFound,
			"check index consistency",
			fmt.Errorf("index has %d entries, metadata has %d chunks", len(seen), chunks.Len()),
		)
	}
	return nil
}
