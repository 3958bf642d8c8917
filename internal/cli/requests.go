package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khushal/pgstore/internal/requests"
)

// NewRequestsCommand creates the requests command group.
func NewRequestsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect and maintain the request log",
	}
	cmd.AddCommand(newRequestsRecentCommand(rootOpts))
	cmd.AddCommand(newRequestsStatsCommand(rootOpts))
	cmd.AddCommand(newRequestsCleanupCommand(rootOpts))
	return cmd
}

func newRequestsRecentCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "recent",
		Short:         "Show the newest logged requests",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequestLog(rootOpts, cmd, func(formatter *OutputFormatter, log *requests.Log) error {
				recent, err := log.RecentRequests(cmd.Context(), limit)
				if err != nil {
					formatter.Error("storage", err.Error(), nil)
					return WrapExitError(ExitFailure, "list requests", err)
				}
				if formatter.Format == "json" {
					return formatter.Success(recent)
				}
				for _, rec := range recent {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
						rec.CreatedTS.Format("2006-01-02 15:04:05"), rec.ID, rec.RequestName)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum requests to show")
	return cmd
}

func newRequestsStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Summarize recent request activity",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequestLog(rootOpts, cmd, func(formatter *OutputFormatter, log *requests.Log) error {
				stats, err := log.Stats(cmd.Context())
				if err != nil {
					formatter.Error("storage", err.Error(), nil)
					return WrapExitError(ExitFailure, "request stats", err)
				}
				if formatter.Format == "json" {
					return formatter.Success(stats)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "total: %d (window %d)\n", stats.Total, stats.Window)
				for name, n := range stats.ByName {
					fmt.Fprintf(out, "  name %-24s %d\n", name, n)
				}
				for service, n := range stats.ByService {
					fmt.Fprintf(out, "  service %-21s %d\n", service, n)
				}
				return nil
			})
		},
	}
}

func newRequestsCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:           "cleanup",
		Short:         "Delete all but the newest requests",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequestLog(rootOpts, cmd, func(formatter *OutputFormatter, log *requests.Log) error {
				deleted, err := log.CleanupOld(cmd.Context(), keep)
				if err != nil {
					formatter.Error("storage", err.Error(), nil)
					return WrapExitError(ExitFailure, "cleanup requests", err)
				}
				return formatter.Success(fmt.Sprintf("deleted %d requests", deleted))
			})
		},
	}
	cmd.Flags().IntVarP(&keep, "keep", "k", 1000, "number of newest requests to keep")
	return cmd
}

func withRequestLog(opts *RootOptions, cmd *cobra.Command, fn func(*OutputFormatter, *requests.Log) error) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	pool, err := opts.openPool(cmd)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	return fn(formatter, requests.NewLog(pool))
}
