// Package auth turns credential actions into session store updates.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kinsi/kinsi/internal/identity"
	"github.com/kinsi/kinsi/internal/session"
	"github.com/kinsi/kinsi/internal/shared"
)

// IdentityAPI is the part of the identity client the gateway calls.
type IdentityAPI interface {
	Login(ctx context.Context, email, password string) (*identity.Envelope, error)
	Register(ctx context.Context, req identity.RegisterRequest) (*identity.Envelope, error)
	GoogleLogin(ctx context.Context, providerToken string) (*identity.Envelope, error)
}

// SessionWriter is implemented by *session.Store.
type SessionWriter interface {
	SetSession(ctx context.Context, sess session.Session) error
	ClearSession(ctx context.Context) error
}

// SessionRefresher is implemented by *session.Store.
type SessionRefresher interface {
	Revalidate(ctx context.Context) error
	Current() (session.Session, bool)
}

// Recorder receives one event per finished flow.
type Recorder interface {
	AuthOutcome(flow, result string)
}

// Options tunes a Gateway.
type Options struct {
	Logger   *slog.Logger
	Recorder Recorder
	// LandingPages maps a role to its post-login page. Unknown roles land on "/".
	LandingPages map[string]string
}

// Gateway runs the login, signup, federated login and logout flows. All three
// credential flows converge on one envelope so the store has one ingestion path.
type Gateway struct {
	api       IdentityAPI
	logger    *slog.Logger
	recorder  Recorder
	landing   map[string]string
	validator *validator.Validate
}

// NewGateway constructs a Gateway.
func NewGateway(api IdentityAPI, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	landing := opts.LandingPages
	if landing == nil {
		landing = DefaultLandingPages()
	}
	return &Gateway{
		api:       api,
		logger:    logger,
		recorder:  opts.Recorder,
		landing:   landing,
		validator: newValidator(),
	}
}

// Login authenticates with email and password.
func (g *Gateway) Login(ctx context.Context, store SessionWriter, email, password string) (Outcome, error) {
	input := loginInput{Email: strings.TrimSpace(email), Password: password}
	if err := validateInput(g.validator, input); err != nil {
		return g.finish(FlowLogin, Outcome{}, err)
	}
	env, err := g.api.Login(ctx, input.Email, input.Password)
	if err != nil {
		return g.finish(FlowLogin, Outcome{}, classify(err))
	}
	out, err := g.establish(ctx, store, env)
	return g.finish(FlowLogin, out, err)
}

// Signup registers a new account and signs it in. When the register endpoint does
// not issue a token the gateway logs in with the same credentials.
func (g *Gateway) Signup(ctx context.Context, store SessionWriter, username, email, password, role string) (Outcome, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = "user"
	}
	input := signupInput{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Password: password,
		Role:     role,
	}
	if err := validateInput(g.validator, input); err != nil {
		return g.finish(FlowSignup, Outcome{}, err)
	}
	env, err := g.api.Register(ctx, identity.RegisterRequest{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
		Role:     input.Role,
	})
	if err != nil {
		return g.finish(FlowSignup, Outcome{}, classify(err))
	}
	if strings.TrimSpace(env.AccessToken) == "" {
		g.logger.Debug("register issued no token, logging in")
		env, err = g.api.Login(ctx, input.Email, input.Password)
		if err != nil {
			return g.finish(FlowSignup, Outcome{}, classify(err))
		}
	}
	out, err := g.establish(ctx, store, env)
	return g.finish(FlowSignup, out, err)
}

// LoginWithFederatedCredential exchanges a third-party identity token.
func (g *Gateway) LoginWithFederatedCredential(ctx context.Context, store SessionWriter, providerToken string) (Outcome, error) {
	input := federatedInput{Token: strings.TrimSpace(providerToken)}
	if err := validateInput(g.validator, input); err != nil {
		return g.finish(FlowFederated, Outcome{}, err)
	}
	env, err := g.api.GoogleLogin(ctx, input.Token)
	if err != nil {
		return g.finish(FlowFederated, Outcome{}, classify(err))
	}
	out, err := g.establish(ctx, store, env)
	return g.finish(FlowFederated, out, err)
}

// Logout clears the session. It never fails for an anonymous store.
func (g *Gateway) Logout(ctx context.Context, store SessionWriter) error {
	err := store.ClearSession(ctx)
	if err != nil {
		g.logger.Warn("logout clear storage", slog.Any("error", err))
	}
	g.record(FlowLogout, "ok")
	return err
}

// Refresh confirms the current session with the identity API and returns its
// refreshed identity. A rejected token leaves the store anonymous and yields an
// error matching shared.ErrSessionInvalid, as does a store with no session.
func (g *Gateway) Refresh(ctx context.Context, store SessionRefresher) (Outcome, error) {
	if err := store.Revalidate(ctx); err != nil {
		if errors.Is(err, shared.ErrSessionInvalid) {
			g.logger.Info("session refresh rejected", slog.Any("error", err))
			g.record(FlowRefresh, "session_invalid")
			return Outcome{}, err
		}
		kind := KindServer
		if errors.Is(err, shared.ErrNetwork) {
			kind = KindNetwork
		}
		return g.finish(FlowRefresh, Outcome{}, &Failure{Kind: kind, Message: "session could not be confirmed", Err: err})
	}
	current, ok := store.Current()
	if !ok {
		g.record(FlowRefresh, "session_invalid")
		return Outcome{}, fmt.Errorf("%w: no session", shared.ErrSessionInvalid)
	}
	return g.finish(FlowRefresh, Outcome{
		Role:     current.Role,
		UserID:   current.UserID,
		Username: current.Username,
		Redirect: g.LandingPage(current.Role),
	}, nil)
}

// LandingPage returns the post-login page of role.
func (g *Gateway) LandingPage(role string) string {
	if page, ok := g.landing[strings.ToLower(role)]; ok {
		return page
	}
	return "/"
}

func (g *Gateway) establish(ctx context.Context, store SessionWriter, env *identity.Envelope) (Outcome, error) {
	sess, err := sessionFromEnvelope(env)
	if err != nil {
		return Outcome{}, err
	}
	if err := store.SetSession(ctx, sess); err != nil {
		return Outcome{}, &Failure{Kind: KindServer, Message: "session could not be stored", Err: err}
	}
	return Outcome{
		Role:     sess.Role,
		UserID:   sess.UserID,
		Username: sess.Username,
		Redirect: g.LandingPage(sess.Role),
	}, nil
}

func (g *Gateway) finish(flow string, out Outcome, err error) (Outcome, error) {
	if err != nil {
		var failure *Failure
		if !errors.As(err, &failure) {
			failure = &Failure{Kind: KindServer, Err: err}
			err = failure
		}
		g.logger.Info("auth flow failed", slog.String("flow", flow), slog.String("kind", failure.Kind.String()), slog.Any("error", err))
		g.record(flow, failure.Kind.String())
		return Outcome{}, err
	}
	g.logger.Info("auth flow succeeded", slog.String("flow", flow), slog.String("role", out.Role), slog.String("user_id", out.UserID))
	g.record(flow, "ok")
	return out, nil
}

func (g *Gateway) record(flow, result string) {
	if g.recorder != nil {
		g.recorder.AuthOutcome(flow, result)
	}
}

// sessionFromEnvelope rejects envelopes that would yield a partial session.
func sessionFromEnvelope(env *identity.Envelope) (session.Session, error) {
	if env == nil || env.User == nil {
		return session.Session{}, &Failure{Kind: KindServer, Message: "response carries no user", Err: identity.ErrMalformed}
	}
	sess := session.Session{
		Role:     strings.TrimSpace(env.User.Role),
		UserID:   strings.TrimSpace(env.User.ID.String()),
		Username: strings.TrimSpace(env.User.Username),
		Token:    strings.TrimSpace(env.AccessToken),
	}
	if sess.Token == "" || !sess.Complete() {
		return session.Session{}, &Failure{Kind: KindServer, Message: "response envelope is incomplete", Err: identity.ErrMalformed}
	}
	return sess, nil
}

func classify(err error) error {
	var apiErr *identity.APIError
	switch {
	case errors.As(err, &apiErr):
		failure := &Failure{Message: apiErr.Message, Fields: apiErr.Fields, Err: err}
		switch apiErr.Status {
		case 400, 409, 422:
			failure.Kind = KindValidation
		case 401, 403:
			failure.Kind = KindInvalidCredentials
		default:
			failure.Kind = KindServer
		}
		return failure
	case errors.Is(err, shared.ErrNetwork):
		return &Failure{Kind: KindNetwork, Message: "could not reach the identity service", Err: err}
	default:
		return &Failure{Kind: KindServer, Message: "unexpected identity service response", Err: err}
	}
}
