// Command cti-index embeds a chunk metadata file and writes the vector index
// the API loads at startup.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/cti-assistant/internal/bootstrap"
	"github.com/kirillkom/cti-assistant/internal/config"
	"github.com/kirillkom/cti-assistant/internal/core/usecase"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/chunkstore/jsonfile"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/vector/flat"
	"github.com/kirillkom/cti-assistant/internal/observability/logging"
	"github.com/kirillkom/cti-assistant/internal/observability/metrics"
)

const serviceName = "cti-index"

func main() {
	cfg := config.Load()
	chunksPath := flag.String("chunks", cfg.ChunksPath, "chunk metadata file (JSON array)")
	outDir := flag.String("out", cfg.IndexPath, "directory the index is written to")
	batchSize := flag.Int("batch", 32, "chunks embedded per batch")
	metricsFile := flag.String("metrics-file", "", "optional node_exporter textfile for build metrics")
	flag.Parse()

	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	buildMetrics := metrics.NewBuildMetrics(serviceName)
	started := time.Now()
	count, err := run(ctx, cfg, *chunksPath, *outDir, *batchSize, buildMetrics)
	buildMetrics.FinishBuild(started, err)
	if *metricsFile != "" {
		if werr := buildMetrics.WriteTextfile(*metricsFile); werr != nil {
			logger.Warn("metrics_textfile_failed", "path", *metricsFile, "error", werr)
		}
	}
	if err != nil {
		logger.Error("index_build_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("index_build_done", "chunks", count, "out", *outDir, "duration", time.Since(started).String())
}

func run(
	ctx context.Context,
	cfg config.Config,
	chunksPath, outDir string,
	batchSize int,
	observer usecase.BuildObserver,
) (int, error) {
	chunks, err := jsonfile.Load(chunksPath)
	if err != nil {
		return 0, err
	}

	embedder, err := bootstrap.NewEmbedder(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer embedder.Close()

	index, err := flat.New(embedder.Dimensions(), embedder.Model())
	if err != nil {
		return 0, err
	}
	return usecase.NewBuildIndexUseCase(chunks, embedder, index, batchSize, observer).Build(ctx, outDir)
}
