// Package cli implements the kinsi command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kinsi/kinsi/internal/app"
)

type globalOptions struct {
	apiURL      string
	sessionFile string
	logFormat   string
}

// NewRootCommand builds the kinsi command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "kinsi",
		Short: "KINSI session gateway",
		Long: `kinsi runs the KINSI backend-for-frontend and drives the same session flows
from a terminal.

The serve command hosts one session store per browser client. The remaining
commands keep a single session in a local YAML file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", "", "identity API base URL (overrides KINSI_API_BASE_URL)")
	root.PersistentFlags().StringVar(&opts.sessionFile, "session-file", "", "CLI session file (default $XDG_CONFIG_HOME/kinsi/session.yaml)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: pretty or json")

	root.AddCommand(
		newServeCommand(opts),
		newLoginCommand(opts),
		newSignupCommand(opts),
		newGoogleLoginCommand(opts),
		newLogoutCommand(opts),
		newWhoamiCommand(opts),
		newRoutesCommand(opts),
	)
	return root
}

// ExecuteContext runs the command tree with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *globalOptions) config() (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.apiURL != "" {
		cfg.APIBaseURL = o.apiURL
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.sessionFile != "" {
		cfg.SessionFile = o.sessionFile
	}
	return cfg, nil
}

func sessionPath(cfg *app.Config) (string, error) {
	if cfg.SessionFile != "" {
		return cfg.SessionFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "kinsi", "session.yaml"), nil
}
