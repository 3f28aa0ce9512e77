package config

import (
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/types"
)

// Reloader re-reads the configuration while a watch session is running.
// It holds on to the last configuration that loaded cleanly: a broken
// save never replaces a working config, it only surfaces as an error
// until the file parses again.
type Reloader struct {
	path    string
	manager *Manager
	logger  logger.Logger

	mu      sync.Mutex
	current *types.StagehandConfig
	lastMod time.Time
}

// NewReloader creates a reloader for the given config file. current is
// the configuration the session started with.
func NewReloader(path string, current *types.StagehandConfig, log logger.Logger) *Reloader {
	r := &Reloader{
		path:    path,
		manager: NewManager(),
		logger:  log,
		current: current,
	}
	if stat, err := os.Stat(path); err == nil {
		r.lastMod = stat.ModTime()
	}
	return r
}

// Path returns the configuration file being watched for reloads
func (r *Reloader) Path() string {
	return r.path
}

// Current returns the last configuration that loaded cleanly
func (r *Reloader) Current() *types.StagehandConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reload re-reads the configuration file and reports whether it
// materially changed. On error the previous configuration stays in
// effect and is returned alongside the error.
func (r *Reloader) Reload() (*types.StagehandConfig, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stat, err := os.Stat(r.path)
	if err != nil {
		return r.current, false, fmt.Errorf("config file unavailable: %w", err)
	}

	// One save often surfaces as several fsnotify events
	if !stat.ModTime().After(r.lastMod) {
		return r.current, false, nil
	}

	cfg, err := r.manager.LoadConfig(r.path)
	if err != nil {
		r.logger.Warn("Config reload failed, keeping previous configuration",
			logger.WithField("error", err))
		return r.current, false, err
	}

	r.lastMod = stat.ModTime()

	if reflect.DeepEqual(cfg, r.current) {
		r.logger.Debug("Configuration unchanged after reload")
		return r.current, false, nil
	}

	r.current = cfg
	r.logger.Info("Configuration reloaded",
		logger.WithField("packages", len(cfg.Packages)))
	return cfg, true, nil
}
