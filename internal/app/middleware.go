package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/kinsi/kinsi/internal/observability"
	"github.com/kinsi/kinsi/internal/session"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the middleware chain shared by every route.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

type clientCookie struct {
	name   string
	ttl    time.Duration
	secure bool
}

func newClientCookie(cfg *Config) clientCookie {
	c := clientCookie{name: "kinsi_client", ttl: 720 * time.Hour}
	if cfg != nil {
		if cfg.ClientCookie != "" {
			c.name = cfg.ClientCookie
		}
		if cfg.SessionTTL > 0 {
			c.ttl = cfg.SessionTTL
		}
		c.secure = cfg.IsProduction()
	}
	return c
}

// id returns the client id carried by r, or "" when the cookie is absent or not a uuid.
func (c clientCookie) id(r *http.Request) string {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

func (c clientCookie) issue(w http.ResponseWriter) string {
	clientID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    clientID,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(c.ttl),
	})
	return clientID
}

// ClientSession attaches the Session Store of a browser client that carries a valid
// kinsi_client cookie. Requests without one pass through with no store and are
// treated as anonymous.
func ClientSession(registry *session.Registry, cfg *Config) func(http.Handler) http.Handler {
	cookie := newClientCookie(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := cookie.id(r)
			if clientID == "" {
				next.ServeHTTP(w, r)
				return
			}
			store := registry.Get(r.Context(), clientID)
			next.ServeHTTP(w, r.WithContext(session.ContextWithStore(r.Context(), store)))
		})
	}
}

// EnsureClientSession issues a kinsi_client cookie and a store to clients that have
// neither. It guards the endpoints that establish a session.
func EnsureClientSession(registry *session.Registry, cfg *Config) func(http.Handler) http.Handler {
	cookie := newClientCookie(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session.StoreFromContext(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}
			clientID := cookie.id(r)
			if clientID == "" {
				clientID = cookie.issue(w)
			}
			store := registry.Get(r.Context(), clientID)
			next.ServeHTTP(w, r.WithContext(session.ContextWithStore(r.Context(), store)))
		})
	}
}

// AuthRateLimit throttles credential endpoints per client IP.
func AuthRateLimit(cfg *Config) func(http.Handler) http.Handler {
	limit := 20
	if cfg != nil && cfg.AuthRateLimit > 0 {
		limit = cfg.AuthRateLimit
	}
	return httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
}
