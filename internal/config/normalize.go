package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizeNotifications()
	c.normalizeFileStorage()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = defaultWorkers
	}
	if c.Scheduler.DispatchInterval <= 0 {
		c.Scheduler.DispatchInterval = defaultDispatchInterval
	}
	if c.Scheduler.PromotionInterval <= 0 {
		c.Scheduler.PromotionInterval = defaultPromotionInterval
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = defaultBatchSize
	}
	if c.Scheduler.PageSize <= 0 {
		c.Scheduler.PageSize = defaultPageSize
	}
	if c.Scheduler.ErrorRetryInterval <= 0 {
		c.Scheduler.ErrorRetryInterval = defaultErrorRetryInterval
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.URL = strings.TrimSpace(c.Notifications.URL)
	if c.Notifications.URL == "" {
		if value, ok := os.LookupEnv("ARCHON_NATS_URL"); ok {
			c.Notifications.URL = strings.TrimSpace(value)
		}
	}
	c.Notifications.Stream = strings.TrimSpace(c.Notifications.Stream)
	if c.Notifications.Stream == "" {
		c.Notifications.Stream = defaultNotifyStream
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeFileStorage() {
	c.FileStorage.Endpoint = strings.TrimSpace(c.FileStorage.Endpoint)
	if c.FileStorage.RequestTimeout <= 0 {
		c.FileStorage.RequestTimeout = defaultFileStoreTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
