package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

// mapErrorToHTTPStatus checks kinds from most to least specific. Upstream
// failures carry ErrGeneration, ErrEmbedding or ErrClassification and map to
// 502 even when the completion service rejected our credentials.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnknownCategory):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrGeneration),
		domain.IsKind(err, domain.ErrEmbedding),
		domain.IsKind(err, domain.ErrClassification):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
