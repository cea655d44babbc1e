package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Store().Stats()
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}

	fmt.Println("Local store:")
	names := make([]string, 0, len(stats.Tables))
	for name := range stats.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := stats.Tables[name]
		fmt.Printf("  %-22s %5d rows", name, t.Live)
		if t.Dirty > 0 {
			fmt.Printf("  (%d dirty)", t.Dirty)
		}
		fmt.Println()
	}

	fmt.Println("\nSync queue:")
	fmt.Printf("  pending: %d\n", stats.PendingOperations)
	fmt.Printf("  failed:  %d\n", stats.FailedOperations)

	if stats.LastSyncAt != nil {
		fmt.Printf("\nLast full sync: %s (%s ago)\n",
			stats.LastSyncAt.Format(time.RFC3339),
			time.Since(*stats.LastSyncAt).Round(time.Second))
	} else {
		fmt.Println("\nLast full sync: never")
	}
	return nil
}
