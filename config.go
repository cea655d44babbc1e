package prostlog

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds engine configuration.
type Config struct {
	// DataDir is the root directory for the database and staged photos.
	DataDir string
	// DatabasePath overrides the database file location. Empty derives
	// DataDir/prostlog.db.
	DatabasePath string

	// APIURL is the backend base URL. Empty selects offline-only mode:
	// local operations queue up and sync is unavailable.
	APIURL string
	// APIKey authenticates requests to the backend.
	APIKey string

	// SyncInterval is the auto-sync period. Zero disables auto-sync.
	SyncInterval time.Duration
	// MaxRetries is the per-operation retry ceiling.
	MaxRetries int

	// PhotoMaxDimension bounds the longer side of uploaded photos.
	PhotoMaxDimension int
	// PhotoJPEGQuality is the JPEG encoder quality (1-100).
	PhotoJPEGQuality int

	// Debug enables debug logging.
	Debug bool
	// DebugLogPath writes debug logs to a file instead of stderr.
	DebugLogPath string
}

// DefaultConfig returns the default configuration rooted under the user's
// home directory.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir:           filepath.Join(home, ".prostlog"),
		MaxRetries:        DefaultMaxRetries,
		PhotoMaxDimension: DefaultPhotoMaxDimension,
		PhotoJPEGQuality:  DefaultPhotoJPEGQuality,
	}
}

// ConfigFromEnv builds a configuration from PROSTLOG_* environment
// variables, falling back to defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PROSTLOG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PROSTLOG_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("PROSTLOG_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("PROSTLOG_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("PROSTLOG_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
	if v := os.Getenv("PROSTLOG_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("PROSTLOG_PHOTO_MAX_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PhotoMaxDimension = n
		}
	}
	if v := os.Getenv("PROSTLOG_PHOTO_JPEG_QUALITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PhotoJPEGQuality = n
		}
	}
	if v := os.Getenv("PROSTLOG_DEBUG"); v == "1" || v == "true" {
		cfg.Debug = true
	}
	if v := os.Getenv("PROSTLOG_DEBUG_LOG"); v != "" {
		cfg.DebugLogPath = v
	}

	return cfg
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.DataDir == "" && c.DatabasePath == "" {
		return &ValidationError{Field: "DataDir", Message: "must not be empty"}
	}
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: "APIURL", Message: "must be an absolute URL"}
		}
	}
	if c.MaxRetries < 0 {
		return &ValidationError{Field: "MaxRetries", Message: "must not be negative"}
	}
	if c.PhotoJPEGQuality < 0 || c.PhotoJPEGQuality > 100 {
		return &ValidationError{Field: "PhotoJPEGQuality", Message: "must be between 1 and 100"}
	}
	if c.SyncInterval < 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must not be negative"}
	}
	return nil
}

// WithDefaults fills zero-valued fields with defaults and derives paths.
func (c Config) WithDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PhotoMaxDimension == 0 {
		c.PhotoMaxDimension = DefaultPhotoMaxDimension
	}
	if c.PhotoJPEGQuality == 0 {
		c.PhotoJPEGQuality = DefaultPhotoJPEGQuality
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "prostlog.db")
	}
	return c
}

// IsOffline reports whether the configuration has no backend to sync with.
func (c Config) IsOffline() bool {
	return c.APIURL == ""
}

// PhotoDir returns the staging directory for pending photo uploads.
func (c Config) PhotoDir() string {
	return filepath.Join(c.DataDir, "pending-uploads")
}
