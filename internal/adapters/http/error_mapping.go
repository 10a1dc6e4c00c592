package httpadapter

import (
	"net/http"

	"github.com/carsnap/angle-review/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrImageNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrGenerationActive):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrReviewIncomplete):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrStalled):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrSyncChannel):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
