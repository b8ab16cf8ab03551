// SPDX-License-Identifier: MIT

// Package daemon wires the configured components together and owns the
// process lifecycle.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/drivecast/internal/api"
	"github.com/ManuGH/drivecast/internal/auth"
	"github.com/ManuGH/drivecast/internal/cache"
	"github.com/ManuGH/drivecast/internal/config"
	"github.com/ManuGH/drivecast/internal/dispatch"
	"github.com/ManuGH/drivecast/internal/domain/driving/callback"
	"github.com/ManuGH/drivecast/internal/domain/driving/finalize"
	"github.com/ManuGH/drivecast/internal/domain/driving/registry"
	"github.com/ManuGH/drivecast/internal/domain/driving/store"
	"github.com/ManuGH/drivecast/internal/domain/driving/taxonomy"
	"github.com/ManuGH/drivecast/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/objectstore"
	"github.com/ManuGH/drivecast/internal/stream"
	"github.com/ManuGH/drivecast/internal/taskgroup"
	"github.com/ManuGH/drivecast/internal/telemetry"
)

const serviceName = "drivecast"

// closer is released during shutdown.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Bootstrap builds every component described by cfg and returns the App that
// runs them. On error everything opened so far is closed again.
func Bootstrap(ctx context.Context, cfg config.AppConfig, holder *config.ConfigHolder) (_ *App, err error) {
	logger := xglog.WithComponent("daemon")
	var closers []closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].fn(context.Background())
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	closers = append(closers, closer{"telemetry", tp.Shutdown})

	records, err := store.Open(cfg.Records.Backend, cfg.Records.Path, cfg.Records.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	closers = append(closers, closer{"records", func(context.Context) error { return records.Close() }})

	objects, err := objectstore.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	closers = append(closers, closer{"objects", func(context.Context) error { return objects.Close() }})

	dedupe, err := cache.Open(cfg.Callback.Dedupe.Backend, cfg.Callback.Dedupe.TTL, cache.RedisConfig{
		Addr: cfg.Callback.Dedupe.RedisAddr,
		DB:   cfg.Callback.Dedupe.RedisDB,
	}, xglog.WithComponent("cache"))
	if err != nil {
		return nil, fmt.Errorf("callback dedupe: %w", err)
	}
	closers = append(closers, closer{"dedupe", func(context.Context) error { return dedupe.Close() }})

	tasks := &taskgroup.Group{}
	closers = append(closers, closer{"tasks", tasks.CloseAndWait})

	inner, err := dispatch.New(dispatch.Config{
		BaseURL:       cfg.Analysis.BaseURL,
		Path:          cfg.Analysis.Path,
		PublicURL:     cfg.API.PublicURL,
		CallbackToken: cfg.API.CallbackToken,
		Timeout:       cfg.Analysis.Timeout,
		MaxInFlight:   cfg.Analysis.MaxInFlight,
		RPS:           cfg.Analysis.RPS,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis dispatch: %w", err)
	}
	if d, ok := inner.(*dispatch.HTTPDispatcher); ok {
		logger.Info().
			Str(xglog.FieldEvent, "dispatch.configured").
			Str("endpoint", d.Endpoint()).
			Msg("analysis worker configured")
	} else {
		logger.Warn().
			Str(xglog.FieldEvent, "dispatch.disabled").
			Msg("no analysis worker configured, segments are stored only")
	}
	dispatcher := dispatch.NewBackground(inner, tasks, cfg.Analysis.Timeout)

	reg := registry.New()
	receiver := callback.NewReceiver(records, reg, taxonomy.New(cfg.Feedback.Language),
		callback.WithDedupe(dedupe, cfg.Callback.Dedupe.TTL))

	finalizer := finalize.New(records, objects,
		ffmpeg.NewRunner(cfg.Finalize.FFmpegBin, cfg.Finalize.KillGrace),
		finalize.Config{
			WorkDir:        cfg.Finalize.WorkDir,
			Timeout:        cfg.Finalize.Timeout,
			DeleteSegments: cfg.Finalize.DeleteSegments,
		},
		finalize.WithTaskGroup(tasks))
	sweeper := &finalize.Sweeper{
		Finalizer: finalizer,
		Records:   records,
		Live:      reg,
		Conf: finalize.SweeperConfig{
			Interval:  cfg.Finalize.SweepInterval,
			IdleAfter: cfg.Finalize.AutoFinalizeAfter,
		},
	}

	tokens := auth.NewTable(tokenEntries(cfg.API.Tokens))
	wsHandler := stream.NewHandler(stream.Config{
		AllowQueryToken: cfg.API.AllowQueryToken,
		AllowedOrigins:  cfg.API.AllowedOrigins,
		MaxSegmentBytes: cfg.API.MaxSegmentBytes,
		WriteTimeout:    cfg.API.WriteTimeout,
	}, stream.Deps{
		Auth:     tokens,
		Sessions: records,
		Objects:  objects,
		Registry: reg,
		Dispatch: dispatcher,
	})
	closers = append(closers, closer{"websockets", func(context.Context) error {
		wsHandler.CloseAll()
		return nil
	}})

	apiCfg := api.Config{
		AllowQueryToken: cfg.API.AllowQueryToken,
		CallbackToken:   cfg.API.CallbackToken,
		EnableTracing:   cfg.Telemetry.Enabled,
	}
	if cfg.API.RateLimit.Enabled {
		apiCfg.CallbackRPM = cfg.API.RateLimit.CallbackRPM
		apiCfg.FinalizeRPM = cfg.API.RateLimit.FinalizeRPM
	}
	server := api.New(apiCfg, api.Deps{
		Stream:    wsHandler,
		Auth:      tokens,
		Receiver:  receiver,
		Finalizer: finalizer,
		Sessions:  records,
		Checks: []api.ReadinessCheck{
			{Name: "records", Ping: records.Ping},
			{Name: "objects", Ping: objects.Ping},
			{Name: "dedupe", Ping: dedupe.Ping},
		},
	})

	deps := Deps{
		Logger:     logger,
		APIHandler: server.Handler(),
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = metricsHandler()
		deps.MetricsAddr = cfg.Metrics.ListenAddr
	}
	mgr, err := NewManager(cfg.Server, deps)
	if err != nil {
		return nil, err
	}
	for _, c := range closers {
		mgr.RegisterShutdownHook(c.name, c.fn)
	}

	logger.Info().
		Str(xglog.FieldEvent, "daemon.bootstrapped").
		Str("records", cfg.Records.Backend).
		Str("storage", cfg.Storage.Backend).
		Str("dedupe", cfg.Callback.Dedupe.Backend).
		Int("tokens", tokens.Len()).
		Str("language", receiver.Taxonomy().Language().String()).
		Msg("components wired")

	return &App{
		logger:       logger,
		manager:      mgr,
		cfgHolder:    holder,
		receiver:     receiver,
		sweeper:      sweeper,
		reloadSignal: syscall.SIGHUP,
	}, nil
}

func tokenEntries(tokens []config.TokenConfig) []auth.Entry {
	entries := make([]auth.Entry, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, auth.Entry{Token: t.Token, User: t.User, Scopes: t.Scopes})
	}
	return entries
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
