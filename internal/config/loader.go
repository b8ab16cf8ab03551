// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseStringList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// The result is validated before it is returned.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	resolvePaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file on top of the defaults already in cfg.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = l.envString(EnvPrefix+"DATA_DIR", cfg.DataDir)

	cfg.Server.ListenAddr = l.envString(EnvPrefix+"LISTEN", cfg.Server.ListenAddr)
	cfg.Server.ShutdownTimeout = l.envDuration(EnvPrefix+"SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.API.PublicURL = l.envString(EnvPrefix+"PUBLIC_URL", cfg.API.PublicURL)
	cfg.API.AllowedOrigins = l.envList(EnvPrefix+"ALLOWED_ORIGINS", cfg.API.AllowedOrigins)
	cfg.API.AllowQueryToken = l.envBool(EnvPrefix+"ALLOW_QUERY_TOKEN", cfg.API.AllowQueryToken)
	cfg.API.CallbackToken = l.envString(EnvPrefix+"CALLBACK_TOKEN", cfg.API.CallbackToken)
	cfg.API.MaxSegmentBytes = l.envInt(EnvPrefix+"MAX_SEGMENT_BYTES", cfg.API.MaxSegmentBytes)
	cfg.API.RateLimit.Enabled = l.envBool(EnvPrefix+"RATE_LIMIT_ENABLED", cfg.API.RateLimit.Enabled)
	if token := l.envString(EnvPrefix+"API_TOKEN", ""); token != "" {
		user := l.envString(EnvPrefix+"API_TOKEN_USER", "")
		cfg.API.Tokens = append(cfg.API.Tokens, TokenConfig{Token: token, User: user})
	}

	cfg.Storage.Backend = l.envString(EnvPrefix+"STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Path = l.envString(EnvPrefix+"STORAGE_PATH", cfg.Storage.Path)
	cfg.Records.Backend = l.envString(EnvPrefix+"RECORDS_BACKEND", cfg.Records.Backend)
	cfg.Records.Path = l.envString(EnvPrefix+"RECORDS_PATH", cfg.Records.Path)

	cfg.Analysis.BaseURL = l.envString(EnvPrefix+"ANALYSIS_URL", cfg.Analysis.BaseURL)
	cfg.Analysis.Timeout = l.envDuration(EnvPrefix+"ANALYSIS_TIMEOUT", cfg.Analysis.Timeout)
	cfg.Analysis.MaxInFlight = l.envInt(EnvPrefix+"ANALYSIS_MAX_INFLIGHT", cfg.Analysis.MaxInFlight)
	cfg.Analysis.RPS = l.envFloat(EnvPrefix+"ANALYSIS_RPS", cfg.Analysis.RPS)

	cfg.Callback.Dedupe.Backend = l.envString(EnvPrefix+"DEDUPE_BACKEND", cfg.Callback.Dedupe.Backend)
	cfg.Callback.Dedupe.RedisAddr = l.envString(EnvPrefix+"REDIS_ADDR", cfg.Callback.Dedupe.RedisAddr)

	cfg.Finalize.FFmpegBin = l.envString(EnvPrefix+"FFMPEG_BIN", cfg.Finalize.FFmpegBin)
	cfg.Finalize.WorkDir = l.envString(EnvPrefix+"FINALIZE_WORKDIR", cfg.Finalize.WorkDir)
	cfg.Finalize.Timeout = l.envDuration(EnvPrefix+"FINALIZE_TIMEOUT", cfg.Finalize.Timeout)
	cfg.Finalize.AutoFinalizeAfter = l.envDuration(EnvPrefix+"AUTO_FINALIZE_AFTER", cfg.Finalize.AutoFinalizeAfter)

	cfg.Feedback.Language = l.envString(EnvPrefix+"FEEDBACK_LANGUAGE", cfg.Feedback.Language)

	cfg.Metrics.Enabled = l.envBool(EnvPrefix+"METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = l.envString(EnvPrefix+"METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Telemetry.Enabled = l.envBool(EnvPrefix+"TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(EnvPrefix+"OTLP_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(EnvPrefix+"OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
}

// resolvePaths derives storage locations from DataDir when left unset.
func resolvePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(cfg.DataDir, "objects")
	}
	if cfg.Records.Path == "" {
		cfg.Records.Path = filepath.Join(cfg.DataDir, "drivecast.db")
	}
	if cfg.Finalize.WorkDir == "" {
		cfg.Finalize.WorkDir = filepath.Join(cfg.DataDir, "tmp")
	}
}
