package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and failed operations",
	RunE:  runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-arm failed operations for retry",
	Long: `Reset all failed operations to pending with a fresh retry budget,
including operations that exhausted their retries.`,
	RunE: runQueueRetry,
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old completed operations",
	RunE:  runQueuePrune,
}

var pruneAge time.Duration

func init() {
	queuePruneCmd.Flags().DurationVar(&pruneAge, "older-than", 7*24*time.Hour, "Minimum age of completed operations to delete")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queuePruneCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	items, err := client.Store().PendingOperations()
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	for _, item := range items {
		fmt.Printf("%s  %-11s %-20s %s  status=%s retries=%d\n",
			item.CreatedAt.Format("2006-01-02 15:04:05"),
			item.Operation, item.TableName, item.RecordID,
			item.Status, item.RetryCount)
		if item.LastError != "" {
			fmt.Printf("    last error: %s\n", item.LastError)
		}
	}
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	n, err := client.Store().RetryFailed()
	if err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}
	fmt.Printf("Re-armed %d operation(s).\n", n)
	return nil
}

func runQueuePrune(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	n, err := client.Store().PruneCompleted(pruneAge)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Printf("Deleted %d completed operation(s).\n", n)
	return nil
}
