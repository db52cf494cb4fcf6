package httpadapter

import (
	"net/http"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrUpstream):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, domain.ErrorEnvelope{Error: domain.ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	}})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, mapErrorToHTTPStatus(err), domain.ErrorCode(err), err.Error())
}
