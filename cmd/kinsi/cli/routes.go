package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kinsi/kinsi/internal/app"
	"github.com/kinsi/kinsi/internal/guard"
	"github.com/kinsi/kinsi/internal/session"
)

func newRoutesCommand(opts *globalOptions) *cobra.Command {
	var check, role string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route guard table or check one path",
		Example: `  kinsi routes
  kinsi routes --check /vendorpage --role vendor
  kinsi routes --check /admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			table, err := app.LoadGuardTable(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if check == "" {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PATH\tROLES")
				for _, rule := range table.Rules() {
					roles := "any"
					if len(rule.AllowedRoles) > 0 {
						roles = strings.Join(rule.AllowedRoles, ",")
					}
					fmt.Fprintf(tw, "%s\t%s\n", rule.Path, roles)
				}
				return tw.Flush()
			}

			snap := session.Snapshot{State: session.StateAnonymous}
			if strings.TrimSpace(role) != "" {
				snap = session.Snapshot{
					State:   session.StateAuthenticated,
					Session: session.Session{Role: role},
				}
			}
			decision := guard.New(table, guard.Options{}).Evaluate(snap, check)
			line := decision.Outcome.String()
			if decision.Location != "" {
				line += " " + decision.Location
			}
			fmt.Fprintln(out, line)
			return nil
		},
	}
	cmd.Flags().StringVar(&check, "check", "", "path to evaluate")
	cmd.Flags().StringVar(&role, "role", "", "role to evaluate with (empty means signed out)")
	return cmd
}
