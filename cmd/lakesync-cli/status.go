package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync engine and queue state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	snap := client.Snapshot()
	rowDepth, err := client.QueueDepth(ctx)
	if err != nil {
		return fmt.Errorf("row queue depth: %w", err)
	}
	actionDepth, err := client.ActionQueueDepth(ctx)
	if err != nil {
		return fmt.Errorf("action queue depth: %w", err)
	}

	if statusJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"online":             client.Online(),
			"syncing":            snap.Syncing,
			"last_synced_hlc":    snap.LastSyncedHLC,
			"last_sync_time":     snap.LastSyncTime,
			"row_queue_depth":    rowDepth,
			"action_queue_depth": actionDepth,
		})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "online:\t%v\n", client.Online())
	fmt.Fprintf(w, "syncing:\t%v\n", snap.Syncing)
	if snap.LastSyncTime != nil {
		fmt.Fprintf(w, "last synced:\t%s\n", humanize.Time(*snap.LastSyncTime))
	} else {
		fmt.Fprintf(w, "last synced:\t%s\n", "never")
	}
	fmt.Fprintf(w, "row queue depth:\t%s\n", humanize.Comma(int64(rowDepth)))
	fmt.Fprintf(w, "action queue depth:\t%s\n", humanize.Comma(int64(actionDepth)))
	return w.Flush()
}
