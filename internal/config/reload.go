package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/metrics"
)

const reloadDebounce = 500 * time.Millisecond

// ConfigHolder holds configuration with atomic reloading capability.
type ConfigHolder struct {
	mu         sync.RWMutex
	current    AppConfig
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewConfigHolder creates a new configuration holder with initial config.
func NewConfigHolder(initial AppConfig, loader *Loader, configPath string) *ConfigHolder {
	return &ConfigHolder{
		current:    initial,
		loader:     loader,
		configPath: configPath,
		logger:     xglog.WithComponent("config"),
	}
}

// Get returns the current configuration (thread-safe read).
func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates the configuration again. On failure the old
// configuration stays active.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		metrics.IncConfigReload("failed")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)
	metrics.IncConfigReload("ok")

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher starts watching the config file for changes.
// If configPath is empty, this is a no-op (config comes from ENV only).
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *ConfigHolder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().
						Err(err).
						Str("event", "config.auto_reload_failed").
						Msg("automatic config reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// Sends are non-blocking; a full channel misses that update.
func (h *ConfigHolder) RegisterListener(ch chan<- AppConfig) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *ConfigHolder) notifyListeners(newCfg AppConfig) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_blocked").
				Msg("config listener channel full, skipping notification")
		}
	}
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(oldCfg, newCfg AppConfig) []string {
	var fields []string
	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		fields = append(fields, "server")
	}
	if oldCfg.Storage != newCfg.Storage {
		fields = append(fields, "storage")
	}
	if oldCfg.Records != newCfg.Records {
		fields = append(fields, "records")
	}
	if oldCfg.Analysis != newCfg.Analysis {
		fields = append(fields, "analysis")
	}
	if oldCfg.Finalize != newCfg.Finalize {
		fields = append(fields, "finalize")
	}
	if oldCfg.Callback != newCfg.Callback {
		fields = append(fields, "callback")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		fields = append(fields, "metrics")
	}
	if oldCfg.Telemetry != newCfg.Telemetry {
		fields = append(fields, "telemetry")
	}
	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		fields = append(fields, "api")
	}
	return fields
}

func (h *ConfigHolder) logChanges(oldCfg, newCfg AppConfig) {
	if oldCfg.LogLevel != newCfg.LogLevel {
		h.logger.Info().
			Str("event", "config.changed").
			Str("field", "logLevel").
			Str("old", oldCfg.LogLevel).
			Str("new", newCfg.LogLevel).
			Msg("log level changed")
	}
	if oldCfg.Feedback.Language != newCfg.Feedback.Language {
		h.logger.Info().
			Str("event", "config.changed").
			Str("field", "feedback.language").
			Str("old", oldCfg.Feedback.Language).
			Str("new", newCfg.Feedback.Language).
			Msg("feedback language changed")
	}
	if fields := RestartRequired(oldCfg, newCfg); len(fields) > 0 {
		h.logger.Warn().
			Str("event", "config.restart_required").
			Strs("sections", fields).
			Msg("changed settings take effect after restart")
	}
}
