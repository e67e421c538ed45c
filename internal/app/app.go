// Package app wires configuration, storage, the session registry and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kinsi/kinsi/internal/auth"
	"github.com/kinsi/kinsi/internal/guard"
	"github.com/kinsi/kinsi/internal/identity"
	"github.com/kinsi/kinsi/internal/observability"
	"github.com/kinsi/kinsi/internal/session"
)

// App is a fully wired BFF.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Identity *identity.Client
	Registry *session.Registry
	Gateway  *auth.Gateway
	Guard    *guard.Guard
	Metrics  *observability.Metrics
	Handler  http.Handler

	closer io.Closer
}

// NewIdentityClient builds the identity API client described by cfg.
func NewIdentityClient(cfg *Config) *identity.Client {
	return identity.NewClient(cfg.APIBaseURL,
		identity.WithHTTPClient(&http.Client{Timeout: cfg.APIHTTPTimeout}),
		identity.WithPaths(identity.Paths{
			Login:       cfg.APILoginPath,
			Register:    cfg.APIRegisterPath,
			GoogleLogin: cfg.APIGooglePath,
			Me:          cfg.APIMePath,
			Logout:      cfg.APILogoutPath,
		}),
	)
}

// LoadGuardTable returns the rules from cfg.RoutesFile or the built-in table.
func LoadGuardTable(cfg *Config) (*guard.Table, error) {
	if cfg.RoutesFile == "" {
		return guard.DefaultTable(), nil
	}
	return guard.LoadTable(cfg.RoutesFile)
}

// New wires every component. Close releases the storage backend.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	table, err := LoadGuardTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	factory, closer, err := NewStorageFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	client := NewIdentityClient(cfg)
	registry := session.NewRegistry(session.RegistryOptions{
		Logger:   logger,
		Storage:  factory,
		Verifier: client,
		StoreOptions: session.Options{
			ValidateTimeout: cfg.ValidateTimeout,
			LogoutTimeout:   cfg.LogoutTimeout,
		},
		IdleTTL: cfg.StoreIdleTTL,
		OnCreate: func(_ string, store *session.Store) {
			store.Subscribe(func(snap session.Snapshot) {
				metrics.SessionTransition(snap.State.String())
			})
		},
	})
	metrics.TrackStores(registry.Len)

	gateway := auth.NewGateway(client, auth.Options{Logger: logger, Recorder: metrics})
	wait := cfg.GuardWait
	if wait == 0 {
		wait = -1
	}
	routeGuard := guard.New(table, guard.Options{
		Logger:      logger,
		Recorder:    metrics,
		WaitTimeout: wait,
	})

	handler := NewRouter(RouterParams{
		Logger:      logger,
		Config:      cfg,
		Registry:    registry,
		Guard:       routeGuard,
		AuthHandler: auth.NewHandler(logger, gateway),
		Metrics:     metrics,
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Identity: client,
		Registry: registry,
		Gateway:  gateway,
		Guard:    routeGuard,
		Metrics:  metrics,
		Handler:  handler,
		closer:   closer,
	}, nil
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
