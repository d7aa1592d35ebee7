package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/core/ports"
)

const defaultBuildBatchSize = 32

// BuildObserver is told about every embedding batch.
type BuildObserver interface {
	ObserveBatch(size int, duration time.Duration, err error)
}

// BuildIndexUseCase embeds every chunk of the metadata file and writes the
// vectors under the same chunk ids, so the index and the metadata stay 1:1.
type BuildIndexUseCase struct {
	chunks    ports.ChunkLister
	embedder  ports.Embedder
	writer    ports.IndexWriter
	batchSize int
	observer  BuildObserver
}

func NewBuildIndexUseCase(
	chunks ports.ChunkLister,
	embedder ports.Embedder,
	writer ports.IndexWriter,
	batchSize int,
	observer BuildObserver,
) *BuildIndexUseCase {
	if batchSize <= 0 {
		batchSize = defaultBuildBatchSize
	}
	return &BuildIndexUseCase{
		chunks:    chunks,
		embedder:  embedder,
		writer:    writer,
		batchSize: batchSize,
		observer:  observer,
	}
}

// Build returns the number of indexed chunks.
func (uc *BuildIndexUseCase) Build(ctx context.Context, outDir string) (int, error) {
	chunks := uc.chunks.Chunks()
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "build index", errors.New("chunk metadata is empty"))
	}

	for start := 0; start < len(chunks); start += uc.batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := min(start+uc.batchSize, len(chunks))
		if err := uc.indexBatch(ctx, chunks[start:end]); err != nil {
			return 0, fmt.Errorf("chunks %d-%d: %w", start, end-1, err)
		}
		slog.Info("index_build_progress", "indexed", end, "total", len(chunks))
	}

	if err := uc.writer.Save(outDir); err != nil {
		return 0, fmt.Errorf("save index: %w", err)
	}
	return len(chunks), nil
}

func (uc *BuildIndexUseCase) indexBatch(ctx context.Context, batch []domain.Chunk) error {
	ids := make([]string, len(batch))
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		ids[i] = chunk.ID
		texts[i] = chunk.Text
	}

	vectors, err := uc.embed(ctx, texts)
	if err != nil {
		return err
	}
	if err := uc.writer.Add(ids, vectors); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	return nil
}

func (uc *BuildIndexUseCase) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = domain.WrapError(
			domain.ErrEmbedding,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	if uc.observer != nil {
		uc.observer.ObserveBatch(len(texts), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	return vectors, nil
}
