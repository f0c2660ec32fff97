package main

import (
	"database/sql"
	"strings"
	"sync"

	"archon/internal/catalog"
	"archon/internal/config"
	"archon/internal/db"
	"archon/internal/lifecycle"
	"archon/internal/logging"
	"archon/internal/request"
)

// commandContext lazily resolves the configuration and opens the stores
// the subcommands share. The CLI works on the same database the daemon
// serves; SQLite's WAL mode keeps the concurrent access safe.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	serviceOnce sync.Once
	handle      *sql.DB
	service     *lifecycle.Service
	serviceErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureService() (*lifecycle.Service, error) {
	c.serviceOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.serviceErr = err
			return
		}
		handle, err := db.Open(cfg)
		if err != nil {
			c.serviceErr = err
			return
		}
		requests, err := request.NewStore(handle)
		if err != nil {
			_ = handle.Close()
			c.serviceErr = err
			return
		}
		cat, err := catalog.NewStore(handle)
		if err != nil {
			_ = handle.Close()
			c.serviceErr = err
			return
		}
		c.handle = handle
		c.service = lifecycle.NewService(requests, cat, cfg.Scheduler.PageSize, logging.NewNop())
	})
	return c.service, c.serviceErr
}

func (c *commandContext) close() {
	if c.handle != nil {
		_ = c.handle.Close()
	}
}
