package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ping",
		Short:         "Check database connectivity",
		Long:          "Open the configured pool and round-trip a trivial query, reporting latency.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(rootOpts, cmd)
		},
	}
}

type pingResult struct {
	Schema  string `json:"schema"`
	Latency string `json:"latency"`
}

func runPing(opts *RootOptions, cmd *cobra.Command) error {
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
	if pool == nil {
		return NewExitError(ExitCommandError, "ping requires a configured database")
	}
	defer pool.Close()

	start := time.Now()
	if err := pool.Ping(cmd.Context()); err != nil {
		formatter.Error("connection", err.Error(), nil)
		return WrapExitError(ExitFailure, "ping", err)
	}
	elapsed := time.Since(start)
	return formatter.Success(pingResult{
		Schema:  pool.Schema(),
		Latency: fmt.Sprint(elapsed.Round(time.Microsecond)),
	})
}
