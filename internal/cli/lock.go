package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/khushal/pgstore/internal/locks"
)

// NewLockCommand creates the lock command group.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Work with distributed locks",
	}
	cmd.AddCommand(newLockHoldCommand(rootOpts))
	cmd.AddCommand(newLockTryCommand(rootOpts))
	return cmd
}

func newLockHoldCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "hold <name>",
		Short:         "Acquire a named lock and hold it until interrupted",
		Long:          "Acquire the named lock, keep its session alive with a background heartbeat, and release on SIGINT/SIGTERM.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockHold(rootOpts, cmd, args[0])
		},
	}
}

func newLockTryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "try <name>",
		Short:         "Attempt a named lock without blocking",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockTry(rootOpts, cmd, args[0])
		},
	}
}

func runLockHold(opts *RootOptions, cmd *cobra.Command, name string) error {
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

	manager := locks.New(pool)
	defer manager.Close(cmd.Context())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Acquire(ctx, name); err != nil {
		formatter.Error("lock", err.Error(), nil)
		return WrapExitError(ExitFailure, "acquire lock", err)
	}
	if pg, ok := manager.(*locks.PostgresManager); ok {
		daemon := locks.NewHeartbeatDaemon(pg, 0)
		daemon.Start()
		defer daemon.Stop()
	}
	formatter.VerboseLog("holding lock %q, interrupt to release", name)

	<-ctx.Done()
	stop()

	if err := manager.Release(cmd.Context(), name); err != nil {
		formatter.Error("lock", err.Error(), nil)
		return WrapExitError(ExitFailure, "release lock", err)
	}
	return formatter.Success("released " + name)
}

func runLockTry(opts *RootOptions, cmd *cobra.Command, name string) error {
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

	manager := locks.New(pool)
	defer manager.Close(cmd.Context())

	granted, err := manager.TryAcquire(cmd.Context(), name)
	if err != nil {
		formatter.Error("lock", err.Error(), nil)
		return WrapExitError(ExitFailure, "try lock", err)
	}
	if !granted {
		formatter.Error("lock", "lock is held elsewhere", nil)
		return NewExitError(ExitFailure, "lock not granted")
	}
	defer manager.Release(cmd.Context(), name)
	return formatter.Success("acquired " + name)
}
