package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/MrSnakeDoc/relay/internal/app"
	"github.com/MrSnakeDoc/relay/internal/config"
	"github.com/MrSnakeDoc/relay/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay - route runtime context",
		Long: `Relay runs a set of routes moving messages between endpoints, with
ordered startup, graceful shutdown and a read-only management API.

Configuration is read from RELAY_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var routesFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the context and block until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if routesFile != "" {
				cfg.RoutesFile = routesFile
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
	cmd.Flags().StringVarP(&routesFile, "routes", "r", "", "routes file (overrides RELAY_ROUTES_FILE)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <routes-file>",
		Short: "Check a routes file without starting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routes, err := app.Validate(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFROM\tSTEPS\tAUTO")
			for _, r := range routes {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", r.ID, r.From, len(r.To), r.AutoStartup)
			}
			return tw.Flush()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "relay", version.String())
}
