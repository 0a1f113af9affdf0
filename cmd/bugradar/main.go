package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bugradar",
		Short:         "Track the bug backlog of an issue tracker over time",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	root.AddCommand(snapshotCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(breakdownCmd())
	root.AddCommand(bugsCmd())
	root.AddCommand(forecastCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

// scope selects the label a read command is filtered by.
type scope struct {
	label string
	gate  bool
}

func (s *scope) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.label, "label", "", "only issues carrying this label")
	cmd.Flags().BoolVar(&s.gate, "gate", false, "scope to the configured gate label")
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the current tracker query as a new snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context())
		},
	}
}

func backfillCmd() *cobra.Command {
	var (
		yes      bool
		lookback int
		cadence  int
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replace all snapshots with history reconstructed from issue dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), yes, lookback, cadence)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that every stored snapshot is deleted")
	cmd.Flags().IntVar(&lookback, "lookback-days", 0, "days of history to reconstruct (default: from config)")
	cmd.Flags().IntVar(&cadence, "cadence-days", 0, "days between reconstructed snapshots (default: from config)")
	return cmd
}

func historyCmd() *cobra.Command {
	var sc scope
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the weekly open-bug series",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), sc)
		},
	}
	sc.register(cmd)
	return cmd
}

func breakdownCmd() *cobra.Command {
	var sc scope
	cmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Group the open bugs of the latest snapshot by priority and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBreakdown(cmd.Context(), sc)
		},
	}
	sc.register(cmd)
	return cmd
}

func bugsCmd() *cobra.Command {
	var (
		sc  scope
		all bool
	)
	cmd := &cobra.Command{
		Use:   "bugs",
		Short: "List the bugs of the latest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBugs(cmd.Context(), sc, all)
		},
	}
	sc.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "include closed bugs")
	return cmd
}

func forecastCmd() *cobra.Command {
	var sc scope
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project when the open backlog reaches zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForecast(cmd.Context(), sc)
		},
	}
	sc.register(cmd)
	return cmd
}

func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the weekly markdown report with issue summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "reports", "directory the report is written to")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with snapshot scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
