package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "Inspect and maintain the photo upload queue",
}

var photosStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show staged photo upload state",
	RunE:  runPhotosStats,
}

var photosCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned staged photo files",
	RunE:  runPhotosCleanup,
}

func init() {
	photosCmd.AddCommand(photosStatsCmd)
	photosCmd.AddCommand(photosCleanupCmd)
}

func runPhotosStats(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Photos().Stats()
	if err != nil {
		return fmt.Errorf("read photo stats: %w", err)
	}

	fmt.Printf("Pictures:        %d\n", stats.Total)
	fmt.Printf("Pending upload:  %d\n", stats.Pending)
	fmt.Printf("Staged on disk:  %.1f MiB\n", float64(stats.PendingBytes)/(1024*1024))
	return nil
}

func runPhotosCleanup(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	n, err := client.Photos().CleanupOrphanedPhotos()
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Printf("Removed %d orphaned file(s).\n", n)
	return nil
}
