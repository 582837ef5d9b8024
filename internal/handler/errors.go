package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"confidential-storage/internal/fault"
	"confidential-storage/internal/service"
	"confidential-storage/pkg/response"
)

// statusFor maps an error class to the HTTP status reported for it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fault.ErrSizeLimitExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, fault.ErrFileNotFound):
		return http.StatusNotFound
	case fault.IsErrInvalid(err):
		return http.StatusBadRequest
	case fault.IsErrDenied(err):
		return http.StatusForbidden
	case errors.Is(err, fault.ErrEncryptionServiceUnavailable), errors.Is(err, fault.ErrNetwork):
		return http.StatusServiceUnavailable
	case fault.IsErrIntegrity(err):
		return http.StatusUnprocessableEntity
	case fault.IsErrProcess(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	response.Fail(w, status, service.UserMessage(err), fault.Kind(err))
}
