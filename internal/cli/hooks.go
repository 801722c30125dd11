package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/pomodoro/internal/hooks"
)

func buildHooksCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage hook scripts",
	}
	cmd.AddCommand(buildHooksValidateCommand(opts))
	return cmd
}

func buildHooksValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a hook file without running any script",
		Long: `Validate a hook file (default: hooks.path from the config).

The file is parsed with the same rules the daemon applies. Every enabled
script is also checked for existence and execute permission; a script that
fails this check is reported but does not fail validation, because the daemon
checks scripts again before each run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.Hooks.Path
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := hooks.Load(path)
			if err != nil {
				return fmt.Errorf("invalid hook file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d hook(s), version %s\n", path, len(cfg.Hooks), cfg.Version)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, def := range cfg.Hooks {
				state := "ok"
				switch {
				case !def.Enabled:
					state = "disabled"
				default:
					if err := hooks.ValidateScript(def.Script); err != nil {
						state = "warning: " + err.Error()
					}
				}
				fmt.Fprintf(tw, "  %s\t%s\t%ds\t%s\t%s\n", def.Event, def.Name, def.TimeoutSecs, def.Script, state)
			}
			return tw.Flush()
		},
	}
}
