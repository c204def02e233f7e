// Package config defines service configuration and its loading order.
package config

import "time"

// Config contains process configuration for the import services.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// ProjectID is the GCP project hosting Firestore and Pub/Sub.
	ProjectID string `koanf:"project_id"`

	// EnablePublish switches the real Pub/Sub publisher on; off means the
	// logging stand-in.
	EnablePublish bool `koanf:"enable_publish"`

	// ArchiveBucket is the GCS bucket raw import payloads are archived to.
	// Empty disables archiving.
	ArchiveBucket string `koanf:"archive_bucket"`

	// RedisAddr enables the distributed import lock. Empty falls back to
	// the in-process lock, which is only correct for single-instance runs.
	RedisAddr     string        `koanf:"redis_addr"`
	ImportLockTTL time.Duration `koanf:"import_lock_ttl"`

	// SentryDSN enables error tracking.
	SentryDSN   string `koanf:"sentry_dsn"`
	Environment string `koanf:"environment"`
	Release     string `koanf:"release"`

	// MetricsAddr exposes the Prometheus endpoint for long-running
	// processes. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// OrphanSweepInterval paces the standalone orphan reprocessor.
	OrphanSweepInterval time.Duration `koanf:"orphan_sweep_interval"`
}

// New returns the defaults the loader layers files and env on top of.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		ProjectID:           "kyoku-project",
		ImportLockTTL:       10 * time.Minute,
		Environment:         "development",
		OrphanSweepInterval: 15 * time.Minute,
	}
}
