package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"mnemo/internal/lock"
)

// newStopCommand signals whichever process owns this workspace's worker. The
// owning window's supervisor observes the lock release and worker exit.
func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the workspace's worker, wherever it is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			snap := lock.New(cfg.LockPath()).Snapshot()
			if snap.Owner == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no worker is running for this workspace")
				return nil
			}
			if snap.Owner.PID == os.Getpid() {
				fmt.Fprintln(cmd.OutOrStdout(), "no worker is running for this workspace")
				return nil
			}

			if err := syscall.Kill(snap.Owner.PID, syscall.SIGTERM); err != nil {
				if errors.Is(err, syscall.ESRCH) {
					fmt.Fprintf(cmd.OutOrStdout(), "owner pid %d is already gone\n", snap.Owner.PID)
					return nil
				}
				return fmt.Errorf("signal owner pid %d: %w", snap.Owner.PID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent stop to pid %d on %s\n", snap.Owner.PID, snap.Owner.Hostname)
			return nil
		},
	}
}
