package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/csams/podcast-offline/internal/config"
	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/offline"
)

type commandContext struct {
	configDirFlag *string

	core      *offline.Core
	logCloser io.Closer
}

func newCommandContext(configDirFlag *string) *commandContext {
	return &commandContext{configDirFlag: configDirFlag}
}

func (c *commandContext) configDir() (string, error) {
	if c.configDirFlag != nil {
		if dir := strings.TrimSpace(*c.configDirFlag); dir != "" {
			return dir, nil
		}
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine config directory: %w", err)
	}
	return filepath.Join(base, "podcast-offline"), nil
}

// ensureCore loads the configuration and opens the core once per command.
func (c *commandContext) ensureCore(ctx context.Context) (*offline.Core, error) {
	if c.core != nil {
		return c.core, nil
	}

	dir, err := c.configDir()
	if err != nil {
		return nil, err
	}
	cm := config.NewConfigManager(dir)
	if err := cm.Load(); err != nil {
		return nil, err
	}
	if err := cm.EnsureDirectories(); err != nil {
		return nil, err
	}
	cfg := cm.GetConfig()

	logger, closer, err := logging.New(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return nil, err
	}

	core, err := offline.New(ctx, cfg, dir, logger)
	if err != nil {
		closer.Close()
		return nil, err
	}
	c.core = core
	c.logCloser = closer
	return core, nil
}

// withCore runs fn against an open core and always closes it afterwards.
func (c *commandContext) withCore(ctx context.Context, fn func(*offline.Core) error) (err error) {
	core, err := c.ensureCore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.close(); err == nil {
			err = closeErr
		}
	}()
	return fn(core)
}

func (c *commandContext) close() error {
	var errs []error
	if c.core != nil {
		errs = append(errs, c.core.Close())
		c.core = nil
	}
	if c.logCloser != nil {
		errs = append(errs, c.logCloser.Close())
		c.logCloser = nil
	}
	return errors.Join(errs...)
}
