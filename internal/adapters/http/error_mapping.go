package httpadapter

import (
	"net/http"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrConfiguration), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrUpstreamAuth), domain.IsKind(err, domain.ErrUpstreamRequest):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
