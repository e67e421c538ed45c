package auth

import (
	"fmt"

	"github.com/kinsi/kinsi/internal/shared"
)

// Kind classifies a failed credential flow.
type Kind int

const (
	// KindInvalidCredentials is a rejected email/password or provider token.
	KindInvalidCredentials Kind = iota + 1
	// KindValidation is missing or malformed input, locally or as judged by the API.
	KindValidation
	// KindServer is a 5xx answer, an unexpected status or a malformed envelope.
	KindServer
	// KindNetwork means the request could not be completed.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindValidation:
		return "validation_error"
	case KindServer:
		return "server_error"
	case KindNetwork:
		return "network_error"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidCredentials:
		return shared.ErrInvalidCredentials
	case KindValidation:
		return shared.ErrValidation
	case KindNetwork:
		return shared.ErrNetwork
	default:
		return shared.ErrServer
	}
}

// Failure is the typed error of every gateway flow. errors.Is matches the shared
// sentinel of its Kind.
type Failure struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("auth: %s: %s", f.Kind, f.Message)
	}
	return "auth: " + f.Kind.String()
}

// Unwrap exposes the kind sentinel and the underlying cause.
func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind.sentinel()}
	}
	return []error{f.Kind.sentinel(), f.Err}
}

// Outcome is the result of a successful credential flow.
type Outcome struct {
	Role     string `json:"role"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	// Redirect is the landing page for Role.
	Redirect string `json:"redirect"`
}

// Flow names used in logs and metrics.
const (
	FlowLogin     = "login"
	FlowSignup    = "signup"
	FlowFederated = "federated"
	FlowLogout    = "logout"
	FlowRefresh   = "refresh"
)

// DefaultLandingPages maps roles to the page shown after signing in.
func DefaultLandingPages() map[string]string {
	return map[string]string{
		"user":   "/userdashboard",
		"vendor": "/vendorpage",
		"admin":  "/admin",
	}
}
