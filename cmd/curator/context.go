package main

import (
	"database/sql"
	"fmt"

	"curator/internal/config"
	"curator/internal/storage"
)

// commandContext lazily loads configuration and the database so cheap
// commands (version, config init) never touch either.
type commandContext struct {
	configFlag *string

	cfg        *config.Config
	configPath string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, resolvedPath, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.configPath = resolvedPath
	return cfg, nil
}

// withDB opens the database for the duration of fn.
func (c *commandContext) withDB(fn func(cfg *config.Config, db *sql.DB) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	db, err := storage.Open(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return fn(cfg, db)
}
