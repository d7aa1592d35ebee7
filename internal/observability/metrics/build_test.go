package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildMetricsWriteTextfile(t *testing.T) {
	m := NewBuildMetrics("cti-index")
	m.ObserveBatch(32, 40*time.Millisecond, nil)
	m.ObserveBatch(8, 10*time.Millisecond, errors.New("embed failed"))
	m.FinishBuild(time.Now().Add(-time.Second), nil)

	path := filepath.Join(t.TempDir(), "cti_index.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		`cti_index_build_chunks_total{service="cti-index",status="success"} 32`,
		`cti_index_build_chunks_total{service="cti-index",status="error"} 8`,
		`cti_index_build_embed_batch_duration_seconds_count{service="cti-index"} 2`,
		`cti_index_build_last_success_timestamp_seconds{service="cti-index"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("textfile missing %q:\n%s", want, body)
		}
	}
}

func TestBuildMetricsFailedBuildKeepsLastSuccessUnset(t *testing.T) {
	m := NewBuildMetrics("cti-index")
	m.FinishBuild(time.Now(), errors.New("metadata is empty"))

	path := filepath.Join(t.TempDir(), "cti_index.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(raw), `cti_index_build_last_success_timestamp_seconds{service="cti-index"} 0`) {
		t.Fatalf("expected zero last-success timestamp:\n%s", raw)
	}
}
