package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kinsi/kinsi/internal/app"
	"github.com/kinsi/kinsi/internal/auth"
	"github.com/kinsi/kinsi/internal/session"
)

type localSession struct {
	logger  *slog.Logger
	store   *session.Store
	gateway *auth.Gateway
}

func openSession(cmd *cobra.Command, opts *globalOptions) (*localSession, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	path, err := sessionPath(cfg)
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg, cmd.ErrOrStderr())
	client := app.NewIdentityClient(cfg)
	store := session.NewStore(session.NewFileStorage(path), client, session.Options{
		Logger:          logger,
		ValidateTimeout: cfg.ValidateTimeout,
		LogoutTimeout:   cfg.LogoutTimeout,
	})
	return &localSession{
		logger:  logger,
		store:   store,
		gateway: auth.NewGateway(client, auth.Options{Logger: logger}),
	}, nil
}

func newLoginCommand(opts *globalOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Sign in with email and password",
		Example: `  kinsi login --email florist@example.com --password 'Secret123!'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			out, err := ls.gateway.Login(cmd.Context(), ls.store, email, password)
			return report(cmd.OutOrStdout(), out, err)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func newSignupCommand(opts *globalOptions) *cobra.Command {
	var username, email, password, role string
	cmd := &cobra.Command{
		Use:     "signup",
		Short:   "Create an account and sign in",
		Example: `  kinsi signup --username florist --email florist@example.com --password 'Secret123!' --role vendor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			out, err := ls.gateway.Signup(cmd.Context(), ls.store, username, email, password, role)
			return report(cmd.OutOrStdout(), out, err)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&role, "role", "user", "account role: user or vendor")
	return cmd
}

func newGoogleLoginCommand(opts *globalOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "google-login",
		Short: "Sign in with a Google ID token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			out, err := ls.gateway.LoginWithFederatedCredential(cmd.Context(), ls.store, token)
			return report(cmd.OutOrStdout(), out, err)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Google ID token (credential)")
	return cmd
}

func newLogoutCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			err = ls.gateway.Logout(cmd.Context(), ls.store)
			// The remote logout runs in the background; let it finish before exiting.
			ls.store.Wait()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Validate the local session and show who is signed in",
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			return whoami(cmd.Context(), cmd.OutOrStdout(), ls)
		},
	}
}

func whoami(ctx context.Context, w io.Writer, ls *localSession) error {
	if err := ls.store.Initialize(ctx); err != nil {
		ls.logger.Warn("session discarded", slog.Any("error", err))
	}
	ls.store.Wait()
	current, ok := ls.store.Current()
	if !ok {
		fmt.Fprintln(w, "Not signed in.")
		return nil
	}
	fmt.Fprintf(w, "Signed in as %s (role %s, id %s)\n", current.Username, current.Role, current.UserID)
	return nil
}

func report(w io.Writer, out auth.Outcome, err error) error {
	if err != nil {
		var failure *auth.Failure
		if errors.As(err, &failure) && len(failure.Fields) > 0 {
			names := make([]string, 0, len(failure.Fields))
			for name := range failure.Fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %s: %s\n", name, failure.Fields[name])
			}
		}
		return err
	}
	fmt.Fprintf(w, "Signed in as %s (role %s). Landing page: %s\n", out.Username, out.Role, out.Redirect)
	return nil
}
