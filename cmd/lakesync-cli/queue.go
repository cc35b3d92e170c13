package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or manage the pending row-delta outbox",
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Discard every pending row-delta entry without sending it",
	Long:  "Escape hatch for a poisoned entry that keeps exhausting its retry budget and blocking the queue behind it.",
	Args:  cobra.NoArgs,
	RunE:  runQueueDrain,
}

func init() {
	queueCmd.AddCommand(queueDrainCmd)
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	depth, err := client.QueueDepth(ctx)
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}
	if err := client.DrainQueue(ctx); err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "drained %d pending entries\n", depth)
	return nil
}
