package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sony/gobreaker/v2"
)

// FailureClassifier reports whether err counts against the upstream's breaker.
type FailureClassifier func(err error) bool

// StateObserver is notified whenever a breaker changes state.
type StateObserver func(operation string, state gobreaker.State)

// Guard keeps one breaker per operation name, so a broken classifier model
// does not stop answer generation and vice versa.
type Guard struct {
	policy   Policy
	observer StateObserver

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewGuard(policy Policy) *Guard {
	return &Guard{
		policy:   policy.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// OnStateChange must be called before the first Do.
func (g *Guard) OnStateChange(observer StateObserver) *Guard {
	g.observer = observer
	return g
}

// Do runs fn once. A request whose context is already done never reaches the
// breaker, and a failure that happens after the caller's context ended is not
// counted against the upstream. Timeouts the upstream client enforces itself
// are counted like any other failure.
func (g *Guard) Do(ctx context.Context, operation string, fn func(context.Context) error, isFailure FailureClassifier) error {
	if fn == nil {
		return errors.New("resilience: operation callback is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.policy.Enabled {
		return fn(ctx)
	}

	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if isFailure == nil {
		isFailure = func(error) bool { return true }
	}

	_, err := g.breaker(op, isFailure).Execute(func() (any, error) {
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, callerDoneError{err: err}
		}
		return nil, err
	})
	var done callerDoneError
	if errors.As(err, &done) {
		return done.err
	}
	if IsCircuitOpen(err) {
		return fmt.Errorf("%s: upstream unavailable: %w", op, err)
	}
	return err
}

// callerDoneError marks a failure observed after the caller's context ended.
type callerDoneError struct {
	err error
}

func (e callerDoneError) Error() string { return e.err.Error() }
func (e callerDoneError) Unwrap() error { return e.err }

// Call is Do for operations that produce a value. A nil guard calls fn directly.
func Call[T any](
	ctx context.Context,
	g *Guard,
	operation string,
	fn func(context.Context) (T, error),
	isFailure FailureClassifier,
) (T, error) {
	var out T
	if g == nil {
		return fn(ctx)
	}
	err := g.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, isFailure)
	return out, err
}

// State reports the current state of the breaker for operation. Operations
// that have not run yet are closed.
func (g *Guard) State(operation string) gobreaker.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if breaker, ok := g.breakers[operation]; ok {
		return breaker.State()
	}
	return gobreaker.StateClosed
}

func (g *Guard) breaker(operation string, isFailure FailureClassifier) *gobreaker.CircuitBreaker[any] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if breaker, ok := g.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: g.policy.HalfOpenMaxCalls,
		Interval:    g.policy.Interval,
		Timeout:     g.policy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < g.policy.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= g.policy.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			var done callerDoneError
			if err == nil || errors.As(err, &done) {
				return true
			}
			return !isFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if g.observer != nil {
				g.observer(name, to)
			}
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	g.breakers[operation] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
