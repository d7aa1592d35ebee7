package onnx

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveModelPathStopsWaitingOnCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	previous := downloadModel
	downloadModel = func(repo, dir string) (string, error) {
		close(started)
		<-release
		return dir, nil
	}
	defer func() { downloadModel = previous }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		_, err := resolveModelPath(ctx, Config{ModelRepo: "sentence-transformers/all-MiniLM-L6-v2", CacheDir: t.TempDir()})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resolveModelPath did not return after cancel")
	}
}

func TestResolveModelPathSkipsDownloadForCanceledContext(t *testing.T) {
	previous := downloadModel
	downloadModel = func(repo, dir string) (string, error) {
		t.Fatal("download started with a canceled context")
		return "", nil
	}
	defer func() { downloadModel = previous }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := resolveModelPath(ctx, Config{ModelRepo: "sentence-transformers/all-MiniLM-L6-v2", CacheDir: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResolveModelPathPrefersExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	path, err := resolveModelPath(context.Background(), Config{ModelPath: dir})
	if err != nil {
		t.Fatalf("resolveModelPath() error = %v", err)
	}
	if path != dir {
		t.Fatalf("expected %s, got %s", dir, path)
	}
}
