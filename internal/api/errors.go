package api

import (
	"errors"
	"net/http"

	"portal-conductor/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
// Upstream auth failures surface as 502: the caller's credentials were
// fine, a backend rejected ours.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var conflict *domain.ConflictError
	var validation *domain.ValidationError
	var unauthorized *domain.AuthError
	var unavailable *domain.ServiceUnavailableError
	var upstream *domain.UpstreamError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &unauthorized), errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
