package main

import (
	"time"

	"github.com/prostlog/prostlog"
	"github.com/spf13/cobra"
)

var (
	cfgDataDir string
	cfgDBPath  string
	cfgAPIURL  string
	cfgAPIKey  string
	cfgDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "prostlog",
	Short: "Prostlog - offline-first festival drink tracker engine",
	Long: `Prostlog is the local persistence and sync engine behind the festival
drink-tracking app.

It mirrors server data into a local SQLite database, queues every local
change in a durable outbox, and synchronizes bidirectionally when the
network allows. All commands work against the local database; sync
commands additionally need a configured backend.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDataDir, "data-dir", "", "Data directory (default: ~/.prostlog)")
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db-path", "", "Database file path (default: <data-dir>/prostlog.db)")
	rootCmd.PersistentFlags().StringVar(&cfgAPIURL, "api-url", "", "Backend base URL")
	rootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "Backend API key")
	rootCmd.PersistentFlags().BoolVar(&cfgDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(photosCmd)
	rootCmd.AddCommand(resetCmd)
}

func loadConfig() prostlog.Config {
	cfg := prostlog.ConfigFromEnv()

	// Flags override environment
	if cfgDataDir != "" {
		cfg.DataDir = cfgDataDir
	}
	if cfgDBPath != "" {
		cfg.DatabasePath = cfgDBPath
	}
	if cfgAPIURL != "" {
		cfg.APIURL = cfgAPIURL
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}
	if cfgDebug {
		cfg.Debug = true
	}
	return cfg
}

func newClient() (*prostlog.Client, error) {
	return prostlog.NewClient(loadConfig())
}

// syncTimeout bounds CLI-driven sync cycles.
const syncTimeout = 60 * time.Second
