package httpx

import (
	"errors"
	"net/http"

	"github.com/kinsi/kinsi/internal/shared"
)

// Sentinel errors for the HTTP layer.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Invalid Credentials", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNetwork):
		Problem(w, http.StatusBadGateway, "Identity Service Unreachable", "")
	case errors.Is(err, shared.ErrServer):
		Problem(w, http.StatusBadGateway, "Identity Service Error", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
