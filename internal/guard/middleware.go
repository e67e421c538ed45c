package guard

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kinsi/kinsi/internal/platform/httpx"
	"github.com/kinsi/kinsi/internal/session"
)

// Middleware enforces the table on every request. It expects the request context to
// carry the client's session store; requests without one are treated as anonymous.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := session.StoreFromContext(r.Context())
		decision := g.Evaluate(snapshotOf(store), r.URL.Path)
		if decision.Outcome == Loading && store != nil && g.wait > 0 {
			timer := time.NewTimer(g.wait)
			select {
			case <-store.Ready():
			case <-timer.C:
			case <-r.Context().Done():
			}
			timer.Stop()
			decision = g.Evaluate(store.Snapshot(), r.URL.Path)
		}
		g.record(decision)

		switch decision.Outcome {
		case Render:
			next.ServeHTTP(w, r)
		case Loading:
			g.logger.Debug("guard loading", slog.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			if httpx.WantsJSON(r) {
				httpx.Problem(w, http.StatusServiceUnavailable, "Loading", "session is still being verified")
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Loading...\n"))
		case RedirectSignIn:
			if httpx.WantsJSON(r) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			location := decision.Location + "?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, location, http.StatusSeeOther)
		case RedirectUnauthorized:
			g.logger.Info("guard denied role",
				slog.String("path", r.URL.Path),
				slog.String("rule", decision.Rule.Path),
				slog.String("role", snapshotOf(store).Session.Role))
			if httpx.WantsJSON(r) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
		}
	})
}

func snapshotOf(store *session.Store) session.Snapshot {
	if store == nil {
		return session.Snapshot{State: session.StateAnonymous}
	}
	return store.Snapshot()
}
