package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kinsi/kinsi/internal/identity"
	"github.com/kinsi/kinsi/internal/shared"
)

const (
	defaultValidateTimeout = 5 * time.Second
	defaultLogoutTimeout   = 5 * time.Second
)

// Verifier is the part of the identity API the store depends on.
type Verifier interface {
	Me(ctx context.Context, token string) (*identity.User, error)
	Logout(ctx context.Context, token string) error
}

// Options tunes a Store.
type Options struct {
	Logger *slog.Logger
	// ValidateTimeout bounds the /me round trip. Expiry fails closed.
	ValidateTimeout time.Duration
	// LogoutTimeout bounds the fire-and-forget /logout notification.
	LogoutTimeout time.Duration
}

// Store is the single source of truth for who is signed in on one client. It is the
// only component that reads or writes the persisted keys.
type Store struct {
	storage         Storage
	verifier        Verifier
	logger          *slog.Logger
	validateTimeout time.Duration
	logoutTimeout   time.Duration

	// writeMu serialises writers so storage and memory change in the same order.
	writeMu sync.Mutex

	mu      sync.RWMutex
	state   State
	session Session
	gen     uint64

	ready     chan struct{}
	readyOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	background sync.WaitGroup
}

// NewStore constructs a Store in StateUnknown.
func NewStore(storage Storage, verifier Verifier, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	validateTimeout := opts.ValidateTimeout
	if validateTimeout <= 0 {
		validateTimeout = defaultValidateTimeout
	}
	logoutTimeout := opts.LogoutTimeout
	if logoutTimeout <= 0 {
		logoutTimeout = defaultLogoutTimeout
	}
	return &Store{
		storage:         storage,
		verifier:        verifier,
		logger:          logger,
		validateTimeout: validateTimeout,
		logoutTimeout:   logoutTimeout,
		state:           StateUnknown,
		ready:           make(chan struct{}),
		subs:            make(map[int]func(Snapshot)),
	}
}

// Snapshot returns a consistent copy of the state and session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{State: s.state, Session: s.session}
}

// Current returns the session when the store is authenticated.
func (s *Store) Current() (Session, bool) {
	snap := s.Snapshot()
	if snap.State != StateAuthenticated {
		return Session{}, false
	}
	return snap.Session, true
}

// Ready is closed once the store has left StateUnknown for the first time.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe registers fn to receive the latest snapshot after every change. The
// returned func removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Initialize restores the session from storage and validates the token with the
// identity API. Any validation failure leaves the store anonymous with storage
// cleared; the returned error is for logging only. A storage read error leaves the
// store anonymous but keeps the persisted keys for the next Initialize.
func (s *Store) Initialize(ctx context.Context) error {
	gen := s.generation()

	values, err := s.storage.Load(ctx)
	if err != nil {
		s.settle(gen, StateAnonymous, Session{})
		return fmt.Errorf("session: load: %w", err)
	}
	cached := sessionFromValues(values)

	if cached.Token == "" {
		if len(values) > 0 {
			// Fields without a token are not a supported state.
			s.failClosed(ctx, gen)
			return nil
		}
		s.settle(gen, StateAnonymous, Session{})
		return nil
	}

	if cached.Complete() {
		s.mu.Lock()
		optimistic := s.gen == gen && s.state == StateUnknown
		if optimistic {
			s.session = cached
		}
		s.mu.Unlock()
		if optimistic {
			s.notify()
		}
	}

	return s.validate(ctx, gen, cached.Token)
}

// Revalidate repeats the /me round trip for an authenticated store.
func (s *Store) Revalidate(ctx context.Context) error {
	s.mu.RLock()
	gen, state, token := s.gen, s.state, s.session.Token
	s.mu.RUnlock()
	if state != StateAuthenticated || token == "" {
		return nil
	}
	return s.validate(ctx, gen, token)
}

// SetSession replaces the session and persists all four keys in one write. Partial
// sessions are rejected and leave the store untouched.
func (s *Store) SetSession(ctx context.Context, sess Session) error {
	sess = sess.normalized()
	if !sess.Complete() {
		return ErrIncompleteSession
	}

	s.writeMu.Lock()
	if err := s.storage.Save(ctx, sess.values()); err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("session: persist: %w", err)
	}
	s.mu.Lock()
	s.session = sess
	s.state = StateAuthenticated
	s.gen++
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.markReady()
	s.notify()
	return nil
}

// ClearSession notifies the logout endpoint in the background, deletes the persisted
// keys and resets the store to anonymous. Clearing an anonymous store is a no-op
// apart from the storage delete.
func (s *Store) ClearSession(ctx context.Context) error {
	s.writeMu.Lock()
	s.mu.RLock()
	token := s.session.Token
	s.mu.RUnlock()
	if token == "" {
		if values, err := s.storage.Load(ctx); err == nil {
			token = values[KeyAccessToken]
		}
	}
	if token != "" {
		s.notifyLogout(ctx, token)
	}

	clearErr := s.storage.Clear(ctx)
	s.mu.Lock()
	s.session = Session{}
	s.state = StateAnonymous
	s.gen++
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.markReady()
	s.notify()
	if clearErr != nil {
		return fmt.Errorf("session: clear: %w", clearErr)
	}
	return nil
}

// Wait blocks until background logout notifications have finished.
func (s *Store) Wait() {
	s.background.Wait()
}

func (s *Store) validate(ctx context.Context, gen uint64, token string) error {
	vctx, cancel := context.WithTimeout(ctx, s.validateTimeout)
	user, err := s.verifier.Me(vctx, token)
	cancel()
	if err != nil {
		s.logger.Warn("session validation failed", slog.Any("error", err))
		s.failClosed(ctx, gen)
		var apiErr *identity.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: %w", shared.ErrSessionInvalid, err)
		}
		return fmt.Errorf("session: validate: %w", err)
	}

	confirmed := Session{
		Role:     user.Role,
		UserID:   user.ID.String(),
		Username: user.Username,
		Token:    token,
	}.normalized()
	if !confirmed.Complete() {
		s.logger.Warn("session validation returned incomplete identity")
		s.failClosed(ctx, gen)
		return fmt.Errorf("%w: incomplete identity", shared.ErrSessionInvalid)
	}

	s.writeMu.Lock()
	if s.generation() != gen {
		s.writeMu.Unlock()
		return nil
	}
	if err := s.storage.Save(ctx, confirmed.values()); err != nil {
		// The token was accepted, so keep the identity in memory.
		s.logger.Warn("session cache rewrite failed", slog.Any("error", err))
	}
	s.mu.Lock()
	s.session = confirmed
	s.state = StateAuthenticated
	s.gen++
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.markReady()
	s.notify()
	return nil
}

// failClosed clears storage and memory unless a newer write already replaced the
// session observed at gen.
func (s *Store) failClosed(ctx context.Context, gen uint64) {
	s.writeMu.Lock()
	if s.generation() != gen {
		s.writeMu.Unlock()
		return
	}
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.Warn("session storage clear failed", slog.Any("error", err))
	}
	s.mu.Lock()
	s.session = Session{}
	s.state = StateAnonymous
	s.gen++
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.markReady()
	s.notify()
}

func (s *Store) settle(gen uint64, state State, sess Session) {
	s.writeMu.Lock()
	s.mu.Lock()
	applied := s.gen == gen
	if applied {
		s.state = state
		s.session = sess
		s.gen++
	}
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.markReady()
	if applied {
		s.notify()
	}
}

func (s *Store) notifyLogout(ctx context.Context, token string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		defer cancel()
		if err := s.verifier.Logout(lctx, token); err != nil {
			s.logger.Warn("remote logout failed", slog.Any("error", err))
		}
	}()
}

func (s *Store) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}

func (s *Store) notify() {
	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}
