// Package onnx embeds text with a sentence-transformers model run through the
// hugot feature-extraction pipeline on ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/embedding"
)

type Config struct {
	// ModelPath is a directory holding tokenizer.json and the .onnx export.
	ModelPath string
	// ModelRepo is downloaded into CacheDir when ModelPath does not exist.
	ModelRepo      string
	CacheDir       string
	Name           string
	Dimensions     int
	OrtLibraryPath string
}

type Embedder struct {
	name       string
	dimensions int

	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// New loads the model and verifies that it produces vectors of cfg.Dimensions.
// Load failures are reported as domain.ErrEmbedding.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "init embedder", errors.New("dimensions must be positive"))
	}
	modelPath, err := resolveModelPath(ctx, cfg)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "resolve embedding model", err)
	}

	sessionOpts := []options.WithOption{
		options.WithIntraOpNumThreads(runtime.NumCPU()),
	}
	if cfg.OrtLibraryPath != "" {
		sessionOpts = append(sessionOpts, options.WithOnnxLibraryPath(cfg.OrtLibraryPath))
	}
	session, err := hugot.NewORTSession(sessionOpts...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "create ORT session", err)
	}

	name := cfg.Name
	if name == "" {
		name = "sentence-embedder"
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      name,
	})
	if err != nil {
		session.Destroy()
		return nil, domain.WrapError(domain.ErrEmbedding, "create feature extraction pipeline", err)
	}

	e := &Embedder{
		name:       name,
		dimensions: cfg.Dimensions,
		session:    session,
		pipeline:   pipeline,
	}
	probe, err := e.EmbedQuery(context.Background(), "dimension probe")
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	if len(probe) != cfg.Dimensions {
		_ = e.Close()
		return nil, domain.WrapError(
			domain.ErrEmbedding,
			"init embedder",
			fmt.Errorf("model %s produces %d dimensions, configured %d", name, len(probe), cfg.Dimensions),
		)
	}
	return e, nil
}

func resolveModelPath(ctx context.Context, cfg Config) (string, error) {
	if cfg.ModelPath != "" {
		if _, err := os.Stat(cfg.ModelPath); err == nil {
			return cfg.ModelPath, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	if cfg.ModelRepo == "" {
		return "", fmt.Errorf("model path %q does not exist and no model repo is configured", cfg.ModelPath)
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = "./models"
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create model cache dir: %w", err)
	}
	return downloadWithin(ctx, cfg.ModelRepo, cacheDir)
}

// downloadModel is replaced in tests.
var downloadModel = func(repo, dir string) (string, error) {
	return hugot.DownloadModel(repo, dir, hugot.NewDownloadOptions())
}

// downloadWithin stops waiting for the download once ctx ends. The download
// itself cannot be interrupted and finishes in the background; a later start
// finds the files in the cache directory.
func downloadWithin(ctx context.Context, repo, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := downloadModel(repo, dir)
		done <- result{path: path, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("download %s: %w", repo, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("download %s: %w", repo, res.err)
		}
		return res.path, nil
	}
}

func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.WrapError(domain.ErrEmbedding, "embed", fmt.Errorf("text %d is empty", i))
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pipeline == nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed", errors.New("embedder is closed"))
	}

	output, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed", err)
	}
	if len(output.Embeddings) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrEmbedding,
			"embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(output.Embeddings)),
		)
	}
	for _, vec := range output.Embeddings {
		embedding.NormalizeL2(vec)
	}
	return output.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", errors.New("empty embedding result"))
	}
	return vectors[0], nil
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) Name() string {
	return e.name
}

func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.pipeline = nil
	return nil
}
