package auth

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinsi/kinsi/internal/platform/httpx"
	"github.com/kinsi/kinsi/internal/session"
	"github.com/kinsi/kinsi/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger  *slog.Logger
	gateway *Gateway
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, gateway *Gateway) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, gateway: gateway}
}

const maxFormMemory = 1 << 20

// MountCredentialRoutes registers the endpoints that establish a session. They
// require a store in the request context.
func (h *Handler) MountCredentialRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/signup", h.handleSignup)
	r.Post("/google-login", h.handleFederated)
}

// MountSessionRoutes registers the endpoints that act on an existing session. A
// request without a store is answered as anonymous.
func (h *Handler) MountSessionRoutes(r chi.Router) {
	r.Post("/logout", h.handleLogout)
	r.Post("/refresh", h.handleRefresh)
	r.Get("/session", h.showSession)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Token    string `json:"token"`
}

type sessionResponse struct {
	State    string `json:"state"`
	Role     string `json:"role,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	store, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	out, err := h.gateway.Login(r.Context(), store, req.Email, req.Password)
	h.respond(w, out, err)
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	store, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	out, err := h.gateway.Signup(r.Context(), store, req.Username, req.Email, req.Password, req.Role)
	h.respond(w, out, err)
}

func (h *Handler) handleFederated(w http.ResponseWriter, r *http.Request) {
	store, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	out, err := h.gateway.LoginWithFederatedCredential(r.Context(), store, req.Token)
	h.respond(w, out, err)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if store := session.StoreFromContext(r.Context()); store != nil {
		_ = h.gateway.Logout(r.Context(), store)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	store := session.StoreFromContext(r.Context())
	if store == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	out, err := h.gateway.Refresh(r.Context(), store)
	if err != nil && errors.Is(err, shared.ErrSessionInvalid) {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	h.respond(w, out, err)
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	store := session.StoreFromContext(r.Context())
	if store == nil {
		httpx.JSON(w, http.StatusOK, sessionResponse{State: session.StateAnonymous.String()})
		return
	}
	httpx.JSON(w, http.StatusOK, snapshotResponse(store.Snapshot()))
}

func snapshotResponse(snap session.Snapshot) sessionResponse {
	return sessionResponse{
		State:    snap.State.String(),
		Role:     snap.Session.Role,
		UserID:   snap.Session.UserID,
		Username: snap.Session.Username,
	}
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (*session.Store, credentialsRequest, bool) {
	store := session.StoreFromContext(r.Context())
	if store == nil {
		h.logger.Error("session store missing during auth request", slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, credentialsRequest{}, false
	}
	req, err := decodeCredentials(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body could not be decoded")
		return nil, credentialsRequest{}, false
	}
	return store, req, true
}

func (h *Handler) respond(w http.ResponseWriter, out Outcome, err error) {
	if err == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	var failure *Failure
	if !errors.As(err, &failure) {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusBadGateway
	switch failure.Kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindInvalidCredentials:
		status = http.StatusUnauthorized
	}
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Type:   "urn:kinsi:auth:" + failure.Kind.String(),
		Title:  http.StatusText(status),
		Status: status,
		Detail: failure.Message,
		Fields: failure.Fields,
	})
}

func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxFormMemory)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return req, err
		}
		req.Username = r.PostFormValue("username")
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
		req.Role = r.PostFormValue("role")
		req.Token = r.PostFormValue("token")
		return req, nil
	default:
		err := httpx.DecodeJSON(r, &req)
		return req, err
	}
}
