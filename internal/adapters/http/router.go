package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/cti-assistant/internal/config"
	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/core/ports"
	"github.com/kirillkom/cti-assistant/internal/core/usecase"
	"github.com/kirillkom/cti-assistant/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

// PipelineCatalog resolves category names to registered pipelines.
type PipelineCatalog interface {
	Lookup(category domain.Category) (ports.PipelineHandler, error)
	Categories() []domain.Category
}

type Router struct {
	cfg       config.Config
	chat      ports.QueryRouter
	pipelines PipelineCatalog
	retriever ports.Retriever
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	chat ports.QueryRouter,
	pipelines PipelineCatalog,
	retriever ports.Retriever,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:       cfg,
		chat:      chat,
		pipelines: pipelines,
		retriever: retriever,
		metrics:   httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /v1/categories", rt.listCategories)
	mux.HandleFunc("POST /v1/chat", rt.chatQuery)
	mux.HandleFunc("POST /v1/pipelines/{category}/run", rt.runPipeline)
	mux.HandleFunc("POST /v1/retrieve", rt.retrieve)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	// Auth runs before traffic control so rejected callers spend neither tokens
	// nor in-flight slots.
	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = apiKeyMiddleware(handler, rt.cfg.APIKey)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": rt.pipelines.Categories()})
}

func (rt *Router) chatQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task    string `json:"task"`
		Context string `json:"context"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	routed, err := rt.chat.Route(r.Context(), req.Task, req.Context)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routed)
}

func (rt *Router) runPipeline(w http.ResponseWriter, r *http.Request) {
	category, _ := domain.ParseCategory(r.PathValue("category"))

	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "run pipeline", errors.New("query is required")))
		return
	}

	handler, err := rt.pipelines.Lookup(category)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if grounded, ok := handler.(ports.GroundedAnswerer); ok {
		answer, err := grounded.Answer(r.Context(), req.Query)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"category": category,
			"answer":   answer.Text,
			"sources":  answer.Sources,
		})
		return
	}

	answer, err := handler.Run(r.Context(), req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"answer":   answer,
	})
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required")))
		return
	}
	if req.K < 0 {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("k must not be negative, got %d", req.K)))
		return
	}
	if req.K == 0 {
		req.K = rt.cfg.RAGTopK
	}

	chunks, err := rt.retriever.Search(r.Context(), req.Query, req.K)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []domain.RetrievedChunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"context": usecase.FormatContext(chunks),
		"sources": chunks,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{
		"error":      err.Error(),
		"request_id": requestIDFromContext(r.Context()),
	})
}
