package testsupport

import (
	"path/filepath"
	"testing"

	"archon/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Scheduler.Workers = 2
	cfg.Scheduler.BatchSize = 10
	cfg.Scheduler.PageSize = 10

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithNotifications enables the NATS fan-out on the test config.
func WithNotifications(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Notifications.Enabled = true
		cfg.Notifications.URL = url
	}
}

// WithPageSize overrides the catalog scan page size on the test config.
func WithPageSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Scheduler.PageSize = size
	}
}
