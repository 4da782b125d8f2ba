package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce coalesces the burst of events an editor produces on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes the new
// configuration to onChange. Files that fail to load or validate are
// logged and skipped. Watch blocks until ctx is done.
//
// The directory is watched rather than the file so that editors that
// replace the file on save keep being followed.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(expandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	logger := log.With().Str("component", "config").Str("path", path).Logger()
	logger.Debug().Msg("watching config")

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")

		case <-timer.C:
			cfg, err := LoadFromPath(path)
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping previous")
				continue
			}
			if err := cfg.Validate(); err != nil {
				logger.Warn().Err(err).Msg("reloaded config is invalid, keeping previous")
				continue
			}
			logger.Info().Msg("config reloaded")
			onChange(cfg)
		}
	}
}
