// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Storage backends.
const (
	StorageFS     = "fs"
	StorageBadger = "badger"
	StorageMemory = "memory"
)

// Record store backends.
const (
	RecordsSQLite = "sqlite"
	RecordsMemory = "memory"
)

// Callback dedupe backends.
const (
	DedupeNone   = "none"
	DedupeMemory = "memory"
	DedupeRedis  = "redis"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version  string `yaml:"-"`
	LogLevel string `yaml:"logLevel"`
	DataDir  string `yaml:"dataDir"`

	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Records   RecordsConfig   `yaml:"records"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Callback  CallbackConfig  `yaml:"callback"`
	Finalize  FinalizeConfig  `yaml:"finalize"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// APIConfig covers the client-facing surface: websocket ingest, callback and
// finalize endpoints.
type APIConfig struct {
	// PublicURL is the externally reachable base URL used to build callback addresses.
	PublicURL       string        `yaml:"publicURL"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	AllowQueryToken bool          `yaml:"allowQueryToken"`
	Tokens          []TokenConfig `yaml:"tokens"`
	// CallbackToken, when set, must be presented by the analysis worker.
	CallbackToken   string          `yaml:"callbackToken"`
	MaxSegmentBytes int             `yaml:"maxSegmentBytes"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// TokenConfig maps a static bearer token to a user identity.
type TokenConfig struct {
	Token  string   `yaml:"token"`
	User   string   `yaml:"user"`
	Scopes []string `yaml:"scopes"`
}

// RateLimitConfig limits the non-realtime HTTP endpoints per client IP.
type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	CallbackRPM int  `yaml:"callbackRPM"`
	FinalizeRPM int  `yaml:"finalizeRPM"`
}

// StorageConfig selects the object store backend for segments and artifacts.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// RecordsConfig selects the session record store.
type RecordsConfig struct {
	Backend     string        `yaml:"backend"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout"`
}

// AnalysisConfig describes the external analysis worker. An empty BaseURL
// disables dispatch.
type AnalysisConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	Path        string        `yaml:"path"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxInFlight int           `yaml:"maxInFlight"`
	RPS         float64       `yaml:"rps"`
}

// CallbackConfig controls result callback handling.
type CallbackConfig struct {
	Dedupe DedupeConfig `yaml:"dedupe"`
}

// DedupeConfig controls suppression of repeated callback deliveries.
type DedupeConfig struct {
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redisAddr"`
	RedisDB   int           `yaml:"redisDB"`
}

// FinalizeConfig controls reassembly of stored segments.
type FinalizeConfig struct {
	FFmpegBin      string        `yaml:"ffmpegBin"`
	WorkDir        string        `yaml:"workDir"`
	Timeout        time.Duration `yaml:"timeout"`
	KillGrace      time.Duration `yaml:"killGrace"`
	DeleteSegments bool          `yaml:"deleteSegments"`
	// AutoFinalizeAfter finalizes sessions idle for this long. Zero disables.
	AutoFinalizeAfter time.Duration `yaml:"autoFinalizeAfter"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
}

// FeedbackConfig selects the language of spoken feedback.
type FeedbackConfig struct {
	Language string `yaml:"language"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}
