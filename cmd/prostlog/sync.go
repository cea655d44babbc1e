package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prostlog/prostlog"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the backend",
	Long: `Synchronize the local database with the backend.

Example:
  prostlog sync           # Full sync (push + pull)
  prostlog sync --push    # Push queued changes only
  prostlog sync --pull    # Pull server changes only`,
	RunE: runSync,
}

var (
	syncPush bool
	syncPull bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncPush, "push", false, "Push queued changes only")
	syncCmd.Flags().BoolVar(&syncPull, "pull", false, "Pull server changes only")
}

func runSync(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	direction := prostlog.SyncBoth
	switch {
	case syncPush && !syncPull:
		direction = prostlog.SyncPush
	case syncPull && !syncPush:
		direction = prostlog.SyncPull
	}

	fmt.Println("Synchronizing...")
	result, err := client.Sync(ctx, prostlog.SyncOptions{Direction: direction})
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Printf("Sync complete (took %s)\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("  pushed: %d\n", result.Pushed)
	fmt.Printf("  pulled: %d\n", result.Pulled)
	if result.Failed > 0 {
		fmt.Printf("  failed: %d\n", result.Failed)
	}
	if result.Aborted {
		fmt.Println("  aborted before completion")
	}
	return nil
}
