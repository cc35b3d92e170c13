package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single synchronous sync cycle",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	if err := client.SyncOnce(ctx); err != nil {
		return fmt.Errorf("sync_once: %w", err)
	}

	snap := client.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "sync complete, last_synced_hlc=%d\n", snap.LastSyncedHLC)
	return nil
}
