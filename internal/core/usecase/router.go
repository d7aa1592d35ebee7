package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/core/ports"
)

// Registry maps categories to pipeline handlers. It is filled at startup and
// only read afterwards.
type Registry struct {
	mu       sync.RWMutex
	order    []domain.Category
	handlers map[domain.Category]ports.PipelineHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.Category]ports.PipelineHandler)}
}

// Register adds or replaces the handler for category.
func (r *Registry) Register(category domain.Category, handler ports.PipelineHandler) error {
	if strings.TrimSpace(string(category)) == "" {
		return fmt.Errorf("register pipeline: category is required")
	}
	if handler == nil {
		return fmt.Errorf("register pipeline %s: handler is nil", category)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[category]; !exists {
		r.order = append(r.order, category)
	}
	r.handlers[category] = handler
	return nil
}

// Lookup fails with domain.ErrUnknownCategory when nothing is registered.
func (r *Registry) Lookup(category domain.Category) (ports.PipelineHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[category]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownCategory, "lookup pipeline", fmt.Errorf("category=%s", category))
	}
	return handler, nil
}

// Categories returns registered categories in registration order.
func (r *Registry) Categories() []domain.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Category, len(r.order))
	copy(out, r.order)
	return out
}

// RouteObserver receives one record per routed query.
type RouteObserver interface {
	RecordRoute(category string, fallback bool, status string, duration time.Duration)
}

type Router struct {
	classifier ports.QueryClassifier
	registry   *Registry
	observer   RouteObserver
}

func NewRouter(classifier ports.QueryClassifier, registry *Registry, observer RouteObserver) *Router {
	return &Router{
		classifier: classifier,
		registry:   registry,
		observer:   observer,
	}
}

// Route classifies the task/context pair and runs the matching pipeline with
// the context text as its query.
func (r *Router) Route(ctx context.Context, task, contextText string) (*domain.RoutedAnswer, error) {
	if strings.TrimSpace(task) == "" || strings.TrimSpace(contextText) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "route query", fmt.Errorf("task and context are required"))
	}
	start := time.Now()

	classification, err := r.classifier.Classify(ctx, task, contextText)
	if err != nil {
		r.record("", false, "classify_error", start)
		return nil, fmt.Errorf("classify query: %w", err)
	}
	slog.InfoContext(ctx, "query_classified",
		"category", classification.Category,
		"fallback", classification.Fallback,
	)

	handler, err := r.registry.Lookup(classification.Category)
	if err != nil {
		r.record(string(classification.Category), classification.Fallback, "unknown_category", start)
		return nil, err
	}

	answer, err := handler.Run(ctx, contextText)
	if err != nil {
		r.record(string(classification.Category), classification.Fallback, "error", start)
		slog.ErrorContext(ctx, "pipeline_failed", "category", classification.Category, "error", err)
		return nil, fmt.Errorf("run %s pipeline: %w", classification.Category, err)
	}
	r.record(string(classification.Category), classification.Fallback, "ok", start)

	return &domain.RoutedAnswer{
		Category: classification.Category,
		Fallback: classification.Fallback,
		Answer:   answer,
	}, nil
}

func (r *Router) record(category string, fallback bool, status string, start time.Time) {
	if r.observer == nil {
		return
	}
	if category == "" {
		category = "none"
	}
	r.observer.RecordRoute(category, fallback, status, time.Since(start))
}
