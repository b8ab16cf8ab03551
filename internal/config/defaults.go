// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	defaultDataDir         = "/var/lib/drivecast"
	defaultMaxSegmentBytes = 32 << 20
	defaultAnalysisPath    = "/analyze_s3_video_async"
)

// Default returns a configuration with every field set to its default.
func Default() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  defaultDataDir,
		Server:   DefaultServerConfig(),
		API: APIConfig{
			PublicURL:       "http://localhost:8088",
			AllowQueryToken: true,
			MaxSegmentBytes: defaultMaxSegmentBytes,
			WriteTimeout:    10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:     true,
				CallbackRPM: 1200,
				FinalizeRPM: 30,
			},
		},
		Storage: StorageConfig{Backend: StorageFS},
		Records: RecordsConfig{
			Backend:     RecordsSQLite,
			BusyTimeout: 5 * time.Second,
		},
		Analysis: AnalysisConfig{
			Path:        defaultAnalysisPath,
			Timeout:     10 * time.Second,
			MaxInFlight: 64,
		},
		Callback: CallbackConfig{
			Dedupe: DedupeConfig{
				Backend: DedupeMemory,
				TTL:     10 * time.Minute,
			},
		},
		Finalize: FinalizeConfig{
			FFmpegBin:     "ffmpeg",
			Timeout:       10 * time.Minute,
			KillGrace:     5 * time.Second,
			SweepInterval: time.Minute,
		},
		Feedback: FeedbackConfig{Language: "ko"},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
