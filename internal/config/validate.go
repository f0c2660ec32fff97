package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateFileStorage(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Workers > 64 {
		return errors.New("scheduler.workers must be 64 or fewer")
	}
	if c.Scheduler.BatchSize > 10000 {
		return errors.New("scheduler.batch_size must be 10000 or fewer")
	}
	if c.Scheduler.PageSize > 10000 {
		return errors.New("scheduler.page_size must be 10000 or fewer")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if !c.Notifications.Enabled {
		return nil
	}
	if c.Notifications.URL == "" {
		return errors.New("notifications.url is required when notifications are enabled. Set ARCHON_NATS_URL or edit the config file")
	}
	return nil
}

func (c *Config) validateFileStorage() error {
	if c.FileStorage.Endpoint == "" {
		return nil
	}
	parsed, err := url.Parse(c.FileStorage.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("file_storage.endpoint %q is not a valid URL", c.FileStorage.Endpoint)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}
