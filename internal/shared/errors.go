package shared

import "errors"

var (
	// ErrInvalidCredentials indicates the identity API rejected the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation indicates missing or malformed input fields.
	ErrValidation = errors.New("validation failed")
	// ErrServer indicates a 5xx answer or a malformed response envelope.
	ErrServer = errors.New("server error")
	// ErrNetwork indicates the request could not be completed.
	ErrNetwork = errors.New("network error")
	// ErrSessionInvalid indicates the identity endpoint rejected a stored token.
	ErrSessionInvalid = errors.New("session invalid")
)
