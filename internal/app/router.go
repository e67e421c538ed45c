package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kinsi/kinsi/internal/auth"
	"github.com/kinsi/kinsi/internal/guard"
	"github.com/kinsi/kinsi/internal/observability"
	"github.com/kinsi/kinsi/internal/platform/httpx"
	"github.com/kinsi/kinsi/internal/session"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	Registry    *session.Registry
	Guard       *guard.Guard
	AuthHandler *auth.Handler
	Metrics     *observability.Metrics
}

type viewResponse struct {
	View  string        `json:"view"`
	State string        `json:"state,omitempty"`
	Next  string        `json:"next,omitempty"`
	User  *viewIdentity `json:"user,omitempty"`
}

type viewIdentity struct {
	Role     string `json:"role"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// NewRouter constructs the chi.Router with KINSI defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ClientSession(params.Registry, params.Config))
		r.Use(params.Guard.Middleware)

		r.Get("/", publicView("home"))
		r.Get("/signin", func(w http.ResponseWriter, r *http.Request) {
			httpx.JSON(w, http.StatusOK, viewResponse{View: "signin", Next: r.URL.Query().Get("next")})
		})
		r.Get("/unauthorized", publicView("unauthorized"))

		r.Route("/auth", func(r chi.Router) {
			r.Use(AuthRateLimit(params.Config))
			r.Group(func(r chi.Router) {
				r.Use(EnsureClientSession(params.Registry, params.Config))
				params.AuthHandler.MountCredentialRoutes(r)
			})
			params.AuthHandler.MountSessionRoutes(r)
		})

		r.Get("/userdashboard", protectedView("userdashboard"))
		r.Get("/vendorpage", protectedView("vendorpage"))
		r.Get("/admin", protectedView("admin"))
		r.Get("/admin/*", protectedView("admin"))
		r.Get("/account", protectedView("account"))
	})

	return r
}

func publicView(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := session.StateAnonymous
		if store := session.StoreFromContext(r.Context()); store != nil {
			state = store.Snapshot().State
		}
		httpx.JSON(w, http.StatusOK, viewResponse{View: name, State: state.String()})
	}
}

// protectedView runs behind the guard, so the store is authenticated here.
func protectedView(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := session.StoreFromContext(r.Context())
		if store == nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		current, ok := store.Current()
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		httpx.JSON(w, http.StatusOK, viewResponse{
			View:  name,
			State: session.StateAuthenticated.String(),
			User: &viewIdentity{
				Role:     current.Role,
				UserID:   current.UserID,
				Username: current.Username,
			},
		})
	}
}
