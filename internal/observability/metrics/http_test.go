package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func scrape(t *testing.T, m *HTTPServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMiddlewareNormalizesPipelinePath(t *testing.T) {
	m := NewHTTPServerMetrics("cti-api")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/pipelines/reasoning_ate/run", nil))

	out := scrape(t, m)
	if !strings.Contains(out, `path="/v1/pipelines/{category}/run"`) || !strings.Contains(out, `status="418"`) {
		t.Fatalf("unexpected metrics output:\n%s", out)
	}
}

func TestRecordRouteCountsFallback(t *testing.T) {
	m := NewHTTPServerMetrics("cti-api")
	m.RecordRoute("understanding", true, "ok", time.Second)
	m.RecordRoute("memorization", false, "ok", time.Second)
	m.RecordRAGObservation("memorization", 0, time.Second)
	m.RecordTokenUsage("classify", "gpt-4o-mini", 120, 2)
	m.RecordBreakerState("generate_answer", gobreaker.StateOpen)
	m.SetIndexChunks(42)

	out := scrape(t, m)
	for _, want := range []string{
		"cti_classifier_fallback_total{service=\"cti-api\"} 1",
		"cti_rag_no_context_total{category=\"memorization\",service=\"cti-api\"} 1",
		"cti_llm_tokens_total{direction=\"in\",model=\"gpt-4o-mini\",operation=\"classify\",service=\"cti-api\"} 120",
		"cti_llm_circuit_breaker_state{operation=\"generate_answer\",service=\"cti-api\"} 2",
		"cti_index_chunks{service=\"cti-api\"} 42",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in metrics output:\n%s", want, out)
		}
	}
}
