package openai

import (
	"context"
	"errors"
	"net"
	"net/http"

	sdk "github.com/openai/openai-go"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
	"github.com/kirillkom/cti-assistant/internal/infrastructure/resilience"
)

// isUpstreamFailure reports whether err says the completion service is
// unhealthy. Rejected requests (4xx other than 408/429) and empty completions
// do not count against the breaker.
func isUpstreamFailure(err error) bool {
	if err == nil || errors.Is(err, errEmptyCompletion) {
		return false
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return isTransientStatus(apiErr.StatusCode)
	}
	return true
}

// isTemporary reports failures a caller may retry later: open breakers,
// transient statuses, transport errors and the client's own timeout. Errors
// caused by the caller's context ending are not temporary.
func isTemporary(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if resilience.IsCircuitOpen(err) {
		return true
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return isTransientStatus(apiErr.StatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrapCompletionError tags err with kind and, where it applies, with
// ErrUnauthorized or ErrTemporary so callers can tell a bad key from an outage.
func wrapCompletionError(ctx context.Context, kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return domain.WrapError(kind, operation, domain.WrapError(domain.ErrUnauthorized, operation, err))
	}
	if isTemporary(ctx, err) {
		return domain.WrapError(kind, operation, domain.WrapError(domain.ErrTemporary, operation, err))
	}
	return domain.WrapError(kind, operation, err)
}

func isTransientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
