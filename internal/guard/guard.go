package guard

import (
	"log/slog"
	"time"

	"github.com/kinsi/kinsi/internal/session"
)

// Outcome is the result of evaluating a navigation target.
type Outcome int

const (
	Render Outcome = iota
	Loading
	RedirectSignIn
	RedirectUnauthorized
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Loading:
		return "loading"
	case RedirectSignIn:
		return "redirect_signin"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// Decision explains an Outcome. Rule is zero when the path is public.
type Decision struct {
	Outcome   Outcome
	Location  string
	Rule      Rule
	Protected bool
}

// Recorder receives one event per guard decision.
type Recorder interface {
	GuardDecision(outcome string)
}

// Options tunes a Guard.
type Options struct {
	Logger           *slog.Logger
	Recorder         Recorder
	SignInPath       string
	UnauthorizedPath string
	// WaitTimeout bounds how long the middleware blocks on an unsettled store.
	WaitTimeout time.Duration
}

// Guard decides Render, Loading or a redirect for each protected path.
type Guard struct {
	table        *Table
	logger       *slog.Logger
	recorder     Recorder
	signIn       string
	unauthorized string
	wait         time.Duration
}

// New constructs a Guard over table. A nil table uses DefaultTable.
func New(table *Table, opts Options) *Guard {
	if table == nil {
		table = DefaultTable()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Guard{
		table:        table,
		logger:       logger,
		recorder:     opts.Recorder,
		signIn:       opts.SignInPath,
		unauthorized: opts.UnauthorizedPath,
		wait:         opts.WaitTimeout,
	}
	if g.signIn == "" {
		g.signIn = "/signin"
	}
	if g.unauthorized == "" {
		g.unauthorized = "/unauthorized"
	}
	if g.wait < 0 {
		g.wait = 0
	} else if opts.WaitTimeout == 0 {
		g.wait = 2 * time.Second
	}
	return g
}

// Table exposes the rules the guard enforces.
func (g *Guard) Table() *Table {
	return g.table
}

// Evaluate is pure: it reads only snap and path. An unknown state never renders a
// protected view, even when a cached session is visible in snap.
func (g *Guard) Evaluate(snap session.Snapshot, path string) Decision {
	rule, ok := g.table.Match(path)
	if !ok {
		return Decision{Outcome: Render}
	}
	d := Decision{Rule: rule, Protected: true}
	switch snap.State {
	case session.StateAuthenticated:
		if rule.Allows(snap.Session.Role) {
			d.Outcome = Render
		} else {
			d.Outcome = RedirectUnauthorized
			d.Location = g.unauthorized
		}
	case session.StateAnonymous:
		d.Outcome = RedirectSignIn
		d.Location = g.signIn
	default:
		d.Outcome = Loading
	}
	return d
}

func (g *Guard) record(d Decision) {
	if g.recorder != nil && d.Protected {
		g.recorder.GuardDecision(d.Outcome.String())
	}
}
