// Package identity is a typed client for the remote KINSI identity API.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kinsi/kinsi/internal/shared"
)

// ErrMalformed reports a 2xx answer whose body could not be decoded. It matches
// shared.ErrServer.
var ErrMalformed = fmt.Errorf("identity: malformed response: %w", shared.ErrServer)

// UserID is an opaque account identifier. The API sends numbers, but strings are
// accepted as well.
type UserID string

// UnmarshalJSON accepts JSON numbers, strings and null.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identity: user id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = UserID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = UserID(n.String())
	return nil
}

// String returns the identifier as text.
func (id UserID) String() string {
	return string(id)
}

// User is the identity record embedded in auth envelopes and returned by /me.
type User struct {
	ID       UserID `json:"id"`
	Role     string `json:"role"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Envelope is the common success shape of login, register and federated login.
type Envelope struct {
	AccessToken string `json:"access_token"`
	User        *User  `json:"user"`
	Message     string `json:"message,omitempty"`
}

// RegisterRequest is the payload of POST /register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// APIError is a non-2xx answer from the identity API.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity: status %d", e.Status)
	}
	return fmt.Sprintf("identity: status %d: %s", e.Status, e.Message)
}

// errorBody covers the error shapes used by the KINSI backends:
// {"error": "..."}, {"message": "..."}, {"error": "...", "details": [...]} and
// {"errors": {"field": "..."}}.
type errorBody struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details []string        `json:"details"`
	Errors  json.RawMessage `json:"errors"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var payload errorBody
	if err := json.Unmarshal(body, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	apiErr.Message = payload.Error
	if apiErr.Message == "" {
		apiErr.Message = payload.Message
	}
	if len(payload.Details) > 0 {
		details := strings.Join(payload.Details, "; ")
		if apiErr.Message == "" {
			apiErr.Message = details
		} else {
			apiErr.Message += ": " + details
		}
	}
	if len(payload.Errors) > 0 {
		fields := make(map[string]string)
		if err := json.Unmarshal(payload.Errors, &fields); err == nil && len(fields) > 0 {
			apiErr.Fields = fields
		} else {
			var list []string
			if err := json.Unmarshal(payload.Errors, &list); err == nil && apiErr.Message == "" {
				apiErr.Message = strings.Join(list, "; ")
			}
		}
	}
	if apiErr.Message == "" && len(apiErr.Fields) > 0 {
		apiErr.Message = "validation failed"
	}
	return apiErr
}
