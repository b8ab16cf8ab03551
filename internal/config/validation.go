// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/ManuGH/drivecast/internal/validate"
)

const maxSegmentBytesLimit = 256 << 20

var httpSchemes = []string{"http", "https"}

// Validate checks the configuration and returns an aggregated error listing
// every invalid field.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, []string{"debug", "info", "warn", "error"})

	v.ListenAddr("server.listenAddr", cfg.Server.ListenAddr)
	v.NonNegativeDuration("server.readTimeout", cfg.Server.ReadTimeout)
	v.NonNegativeDuration("server.writeTimeout", cfg.Server.WriteTimeout)
	v.NonNegativeDuration("server.idleTimeout", cfg.Server.IdleTimeout)
	v.PositiveDuration("server.shutdownTimeout", cfg.Server.ShutdownTimeout)

	validateAPI(v, cfg.API)

	v.OneOf("storage.backend", cfg.Storage.Backend, []string{StorageFS, StorageBadger, StorageMemory})
	if cfg.Storage.Backend != StorageMemory {
		v.Path("storage.path", cfg.Storage.Path)
	}

	v.OneOf("records.backend", cfg.Records.Backend, []string{RecordsSQLite, RecordsMemory})
	if cfg.Records.Backend == RecordsSQLite {
		v.Path("records.path", cfg.Records.Path)
		v.PositiveDuration("records.busyTimeout", cfg.Records.BusyTimeout)
	}

	if cfg.Analysis.BaseURL != "" {
		v.URL("analysis.baseURL", cfg.Analysis.BaseURL, httpSchemes)
		if !strings.HasPrefix(cfg.Analysis.Path, "/") {
			v.AddError("analysis.path", "must start with /", cfg.Analysis.Path)
		}
		// Callback addresses are built from the public URL.
		v.URL("api.publicURL", cfg.API.PublicURL, httpSchemes)
	}
	v.PositiveDuration("analysis.timeout", cfg.Analysis.Timeout)
	v.Range("analysis.maxInFlight", cfg.Analysis.MaxInFlight, 1, 4096)
	v.FloatRange("analysis.rps", cfg.Analysis.RPS, 0, 10000)

	d := cfg.Callback.Dedupe
	v.OneOf("callback.dedupe.backend", d.Backend, []string{DedupeNone, DedupeMemory, DedupeRedis})
	if d.Backend != DedupeNone {
		v.PositiveDuration("callback.dedupe.ttl", d.TTL)
	}
	if d.Backend == DedupeRedis {
		v.NotEmpty("callback.dedupe.redisAddr", d.RedisAddr)
	}

	v.NotEmpty("finalize.ffmpegBin", cfg.Finalize.FFmpegBin)
	v.Path("finalize.workDir", cfg.Finalize.WorkDir)
	v.PositiveDuration("finalize.timeout", cfg.Finalize.Timeout)
	v.NonNegativeDuration("finalize.killGrace", cfg.Finalize.KillGrace)
	v.NonNegativeDuration("finalize.autoFinalizeAfter", cfg.Finalize.AutoFinalizeAfter)
	if cfg.Finalize.AutoFinalizeAfter > 0 {
		v.PositiveDuration("finalize.sweepInterval", cfg.Finalize.SweepInterval)
	}

	if _, err := language.Parse(cfg.Feedback.Language); err != nil {
		v.AddError("feedback.language", fmt.Sprintf("invalid BCP 47 tag: %v", err), cfg.Feedback.Language)
	}

	if cfg.Metrics.Enabled {
		v.ListenAddr("metrics.listenAddr", cfg.Metrics.ListenAddr)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}

func validateAPI(v *validate.Validator, api APIConfig) {
	v.Range("api.maxSegmentBytes", api.MaxSegmentBytes, 1, maxSegmentBytesLimit)
	v.PositiveDuration("api.writeTimeout", api.WriteTimeout)

	if api.RateLimit.Enabled {
		v.Range("api.rateLimit.callbackRPM", api.RateLimit.CallbackRPM, 1, 1_000_000)
		v.Range("api.rateLimit.finalizeRPM", api.RateLimit.FinalizeRPM, 1, 1_000_000)
	}

	seen := make(map[string]struct{}, len(api.Tokens))
	for i, tok := range api.Tokens {
		field := fmt.Sprintf("api.tokens[%d]", i)
		if strings.TrimSpace(tok.Token) == "" {
			v.AddError(field+".token", "value cannot be empty", "")
			continue
		}
		v.NotEmpty(field+".user", tok.User)
		if _, dup := seen[tok.Token]; dup {
			v.AddError(field+".token", "duplicate token", "***")
		}
		seen[tok.Token] = struct{}{}
	}
}
