package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/resilience"
)

type capturedRequest struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, status int, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"invalid_request_error"}}`))
			return
		}
		body, _ := json.Marshal(content)
		_, _ = fmt.Fprintf(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %s}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`, body)
	}))
}

type usageFake struct {
	operation string
	prompt    int
	output    int
}

func (u *usageFake) RecordTokenUsage(operation, _ string, promptTokens, completionTokens int) {
	u.operation = operation
	u.prompt = promptTokens
	u.output = completionTokens
}

func newTestClient(serverURL string, usage UsageRecorder) *Client {
	guard := resilience.NewGuard(resilience.Policy{Enabled: false})
	return New(Config{APIKey: "test-key", BaseURL: serverURL + "/v1/"}, guard, usage)
}

func TestGeneratorBuildsGroundingPrompt(t *testing.T) {
	var captured capturedRequest
	server := completionServer(t, http.StatusOK, "  CVE-2021-1234 maps to CWE-120.  ", &captured)
	defer server.Close()

	usage := &usageFake{}
	gen := NewGenerator(newTestClient(server.URL, usage), GeneratorConfig{
		Model:       "gpt-4-turbo",
		Temperature: 0.3,
		MaxTokens:   600,
	}, DefaultPrompts())

	contextText := "Source: https://example.com\nContent: CVE-2021-1234 is a buffer overflow in libexample"
	answer, err := gen.GenerateAnswer(context.Background(), "What is CVE-2021-1234?", contextText)
	if err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if answer != "CVE-2021-1234 maps to CWE-120." {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}

	if captured.Model != "gpt-4-turbo" {
		t.Fatalf("unexpected model: %q", captured.Model)
	}
	if captured.Temperature == nil || *captured.Temperature != 0.3 {
		t.Fatalf("unexpected temperature: %v", captured.Temperature)
	}
	if captured.MaxTokens == nil || *captured.MaxTokens != 600 {
		t.Fatalf("unexpected max tokens: %v", captured.MaxTokens)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("expected a single user message, got %+v", captured.Messages)
	}
	prompt := captured.Messages[0].Content
	if !strings.Contains(prompt, "What is CVE-2021-1234?") || !strings.Contains(prompt, contextText) {
		t.Fatalf("prompt is missing query or context: %s", prompt)
	}
	if strings.Contains(prompt, contextPlaceholder) || strings.Contains(prompt, queryPlaceholder) {
		t.Fatalf("placeholders were not replaced: %s", prompt)
	}
	if usage.operation != "generate_answer" || usage.prompt != 12 || usage.output != 3 {
		t.Fatalf("unexpected usage record: %+v", usage)
	}
}

func TestGeneratorRejectsEmptyOutput(t *testing.T) {
	server := completionServer(t, http.StatusOK, "   ", nil)
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL, nil), GeneratorConfig{Model: "m", Temperature: 0.3}, DefaultPrompts())
	_, err := gen.GenerateFromPrompt(context.Background(), "prompt")
	if !domain.IsKind(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestGeneratorMapsAuthFailure(t *testing.T) {
	server := completionServer(t, http.StatusUnauthorized, "", nil)
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL, nil), GeneratorConfig{Model: "m", Temperature: 0.3}, DefaultPrompts())
	_, err := gen.GenerateAnswer(context.Background(), "q", "c")
	if !domain.IsKind(err, domain.ErrGeneration) || !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrGeneration and ErrUnauthorized, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("auth failure must not be temporary: %v", err)
	}
}

func TestGeneratorDoesNotRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL, nil), GeneratorConfig{Model: "m", Temperature: 0.3}, DefaultPrompts())
	_, err := gen.GenerateAnswer(context.Background(), "q", "c")
	if !domain.IsKind(err, domain.ErrGeneration) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary generation error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", calls.Load())
	}
}

func TestClassifierSendsTaskAndContext(t *testing.T) {
	var captured capturedRequest
	server := completionServer(t, http.StatusOK, " Reasoning_TAA \n", &captured)
	defer server.Close()

	cls := NewClassifier(newTestClient(server.URL, nil), ClassifierConfig{Model: "gpt-4o-mini", MaxTokens: 10}, DefaultPrompts())
	got, err := cls.Classify(context.Background(), "  Attribute this report.  ", "  APT29 used WellMess.\n")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Category != domain.CategoryReasoningTAA || got.Fallback {
		t.Fatalf("unexpected classification: %+v", got)
	}

	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("expected system and user messages, got %+v", captured.Messages)
	}
	if captured.Messages[1].Content != "Attribute this report.\n\nAPT29 used WellMess." {
		t.Fatalf("unexpected user message: %q", captured.Messages[1].Content)
	}
	if captured.Temperature == nil || *captured.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", captured.Temperature)
	}
	if captured.MaxTokens == nil || *captured.MaxTokens != 10 {
		t.Fatalf("expected max tokens 10, got %v", captured.MaxTokens)
	}
}

func TestClassifierFallsBackOnUnknownLabel(t *testing.T) {
	for _, label := range []string{"malware_analysis", ""} {
		server := completionServer(t, http.StatusOK, label, nil)
		cls := NewClassifier(newTestClient(server.URL, nil), ClassifierConfig{Model: "m", MaxTokens: 10}, DefaultPrompts())
		got, err := cls.Classify(context.Background(), "task", "context")
		server.Close()
		if err != nil {
			t.Fatalf("Classify(%q) error = %v", label, err)
		}
		if got.Category != domain.CategoryUnderstanding || !got.Fallback || got.Raw != label {
			t.Fatalf("unexpected fallback classification for %q: %+v", label, got)
		}
	}
}

func TestClassifierMapsTransportFailure(t *testing.T) {
	server := completionServer(t, http.StatusBadGateway, "", nil)
	defer server.Close()

	cls := NewClassifier(newTestClient(server.URL, nil), ClassifierConfig{Model: "m"}, DefaultPrompts())
	_, err := cls.Classify(context.Background(), "task", "context")
	if !domain.IsKind(err, domain.ErrClassification) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary classification error, got %v", err)
	}
}

func TestOpenBreakerShortCircuitsAsTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer server.Close()

	guard := resilience.NewGuard(resilience.Policy{Enabled: true, MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute})
	client := New(Config{APIKey: "test-key", BaseURL: server.URL + "/v1/"}, guard, nil)
	gen := NewGenerator(client, GeneratorConfig{Model: "m", Temperature: 0.3}, DefaultPrompts())

	for i := 0; i < 2; i++ {
		if _, err := gen.GenerateFromPrompt(context.Background(), "q"); err == nil {
			t.Fatalf("expected upstream error on call %d", i)
		}
	}
	_, err := gen.GenerateFromPrompt(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrGeneration) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary generation error, got %v", err)
	}
	if !resilience.IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected the open breaker to skip the upstream, got %d calls", calls.Load())
	}
}

func TestBadRequestDoesNotTripBreaker(t *testing.T) {
	server := completionServer(t, http.StatusBadRequest, "", nil)
	defer server.Close()

	guard := resilience.NewGuard(resilience.Policy{Enabled: true, MinRequests: 1, FailureRatio: 0.5, OpenTimeout: time.Minute})
	client := New(Config{APIKey: "test-key", BaseURL: server.URL + "/v1/"}, guard, nil)
	gen := NewGenerator(client, GeneratorConfig{Model: "m", Temperature: 0.3}, DefaultPrompts())

	for i := 0; i < 3; i++ {
		_, err := gen.GenerateFromPrompt(context.Background(), "q")
		if resilience.IsCircuitOpen(err) || domain.IsKind(err, domain.ErrTemporary) {
			t.Fatalf("bad request must not open the breaker: %v", err)
		}
	}
}

func TestHungUpstreamIsTemporaryAndTripsBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	guard := resilience.NewGuard(resilience.Policy{Enabled: true, MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute})
	client := New(Config{APIKey: "test-key", BaseURL: server.URL + "/v1/", Timeout: 50 * time.Millisecond}, guard, nil)
	cls := NewClassifier(client, ClassifierConfig{Model: "m", MaxTokens: 10}, DefaultPrompts())

	for i := 0; i < 2; i++ {
		_, err := cls.Classify(context.Background(), "task", "context")
		if !domain.IsKind(err, domain.ErrClassification) || !domain.IsKind(err, domain.ErrTemporary) {
			t.Fatalf("call %d: expected temporary classification error, got %v", i, err)
		}
	}
	if guard.State("classify") != gobreaker.StateOpen {
		t.Fatalf("expected client timeouts to open the breaker, got %v", guard.State("classify"))
	}

	_, err := cls.Classify(context.Background(), "task", "context")
	if !resilience.IsCircuitOpen(err) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected the open breaker to skip the upstream, got %d calls", calls.Load())
	}
}

func TestCallerDeadlineIsNotTemporaryAndKeepsBreakerClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	guard := resilience.NewGuard(resilience.Policy{Enabled: true, MinRequests: 1, FailureRatio: 0.5, OpenTimeout: time.Minute})
	client := New(Config{APIKey: "test-key", BaseURL: server.URL + "/v1/", Timeout: 5 * time.Second}, guard, nil)
	gen := NewGenerator(client, GeneratorConfig{Model: "m", Temperature: 0.3}, DefaultPrompts())

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		_, err := gen.GenerateFromPrompt(ctx, "q")
		cancel()
		if domain.IsKind(err, domain.ErrTemporary) {
			t.Fatalf("caller deadline must not be temporary: %v", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	}
	if guard.State("generate_from_prompt") != gobreaker.StateClosed {
		t.Fatalf("caller deadlines must not open the breaker")
	}
}
