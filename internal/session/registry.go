package session

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const defaultIdleTTL = 30 * time.Minute

// StorageFactory returns the storage of one client.
type StorageFactory func(clientID string) Storage

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger       *slog.Logger
	Storage      StorageFactory
	Verifier     Verifier
	StoreOptions Options
	// IdleTTL evicts stores that were not used for this long. State survives in storage.
	IdleTTL time.Duration
	// OnCreate runs for every new store before it is initialised.
	OnCreate func(clientID string, store *Store)
}

// Registry keeps one Store per browser client and initialises each store once.
type Registry struct {
	logger   *slog.Logger
	storage  StorageFactory
	verifier Verifier
	opts     Options
	onCreate func(string, *Store)
	cache    *gocache.Cache
	group    singleflight.Group
}

// NewRegistry constructs a Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	storeOpts := opts.StoreOptions
	if storeOpts.Logger == nil {
		storeOpts.Logger = logger
	}
	return &Registry{
		logger:   logger,
		storage:  opts.Storage,
		verifier: opts.Verifier,
		opts:     storeOpts,
		onCreate: opts.OnCreate,
		cache:    gocache.New(ttl, ttl/2),
	}
}

// Get returns the store for clientID. A store seen for the first time starts its
// initialisation in the background; callers consult Snapshot or wait on Ready.
func (r *Registry) Get(ctx context.Context, clientID string) *Store {
	if cached, ok := r.cache.Get(clientID); ok {
		store := cached.(*Store)
		r.cache.SetDefault(clientID, store)
		return store
	}
	v, _, _ := r.group.Do(clientID, func() (interface{}, error) {
		if cached, ok := r.cache.Get(clientID); ok {
			return cached, nil
		}
		store := NewStore(r.storage(clientID), r.verifier, r.opts)
		if r.onCreate != nil {
			r.onCreate(clientID, store)
		}
		r.cache.SetDefault(clientID, store)
		go r.initialize(context.WithoutCancel(ctx), clientID, store)
		return store, nil
	})
	return v.(*Store)
}

// Len reports how many stores are live in process.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

func (r *Registry) initialize(ctx context.Context, clientID string, store *Store) {
	if err := store.Initialize(ctx); err != nil {
		r.logger.Warn("session initialise", slog.String("client", shortID(clientID)), slog.Any("error", err))
		return
	}
	r.logger.Debug("session initialised", slog.String("client", shortID(clientID)), slog.String("state", store.Snapshot().State.String()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
