// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/drivecast/internal/config"
	"github.com/ManuGH/drivecast/internal/domain/driving/taxonomy"
	xglog "github.com/ManuGH/drivecast/internal/log"
)

// TaxonomySetter swaps the feedback language at runtime.
type TaxonomySetter interface {
	SetTaxonomy(t *taxonomy.Taxonomy)
}

// Sweeper is a background loop that stops when ctx ends.
type Sweeper interface {
	Run(ctx context.Context)
}

// App owns the long-lived runtime lifecycle (watchers, reload wiring, the
// auto-finalize sweeper) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	receiver     TaxonomySetter
	sweeper      Sweeper
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. receiver and sweeper are optional.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, receiver TaxonomySetter, sweeper Sweeper) *App {
	return &App{
		logger:    logger,
		manager:   manager,
		cfgHolder: cfgHolder,
		receiver:  receiver,
		sweeper:   sweeper,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.applyConfig(cfg)
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(xglog.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().
							Err(err).
							Str(xglog.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.sweeper != nil {
		g.Go(func() error {
			a.sweeper.Run(ctx)
			return nil
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// applyConfig applies the settings that can change without a restart: the
// log level and the feedback language.
func (a *App) applyConfig(cfg config.AppConfig) {
	if cfg.LogLevel != "" {
		if err := xglog.SetLevel(cfg.LogLevel); err != nil {
			a.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "config.apply_failed").
				Str("field", "logLevel").
				Msg("invalid log level ignored")
		}
	}
	if a.receiver != nil {
		a.receiver.SetTaxonomy(taxonomy.New(cfg.Feedback.Language))
	}
	a.logger.Info().
		Str(xglog.FieldEvent, "config.applied").
		Str("log_level", cfg.LogLevel).
		Str("language", cfg.Feedback.Language).
		Msg("runtime configuration applied")
}
