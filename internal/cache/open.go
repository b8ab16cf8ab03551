// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT

package cache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Open builds the configured backend. The memory janitor runs at ttl/2.
func Open(backend string, ttl time.Duration, redisCfg RedisConfig, logger zerolog.Logger) (Cache, error) {
	switch backend {
	case BackendNone:
		return NewNoOpCache(), nil
	case BackendMemory, "":
		interval := ttl / 2
		if interval < time.Second {
			interval = time.Second
		}
		return NewMemoryCache(interval), nil
	case BackendRedis:
		c, err := NewRedisCache(redisCfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown dedupe backend: %s", backend)
	}
}
