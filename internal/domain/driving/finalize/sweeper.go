// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package finalize

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/domain/driving/store"
	xglog "github.com/ManuGH/drivecast/internal/log"
)

// LiveChecker reports whether a session still has a live connection.
type LiveChecker interface {
	Has(id string) bool
}

// SweeperConfig defines the auto-finalize policy.
type SweeperConfig struct {
	Interval  time.Duration
	IdleAfter time.Duration // Finalize open sessions idle this long (0 disables)
}

// Sweeper finalizes abandoned sessions: open, idle past IdleAfter and with no
// live connection.
type Sweeper struct {
	Finalizer *Finalizer
	Records   store.Store
	Live      LiveChecker
	Conf      SweeperConfig
	Now       func() time.Time
}

// Run starts the sweeper loop. It periodically calls SweepOnce on a ticker
// and returns when ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Conf.Interval <= 0 || s.Conf.IdleAfter <= 0 {
		return
	}

	ticker := time.NewTicker(s.Conf.Interval)
	defer ticker.Stop()

	logger := xglog.WithComponent("finalize.sweeper")
	logger.Info().
		Dur("interval", s.Conf.Interval).
		Dur("idle_after", s.Conf.IdleAfter).
		Msg("auto-finalize sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("auto-finalize sweep failed")
			}
		}
	}
}

// SweepOnce performs one pass and returns how many sessions it finalized.
// Each session is ended at its last recorded activity.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	logger := xglog.WithComponent("finalize.sweeper")

	idle, err := s.Records.ListIdle(ctx, now().Add(-s.Conf.IdleAfter))
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, sess := range idle {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}
		if s.Live != nil && s.Live.Has(model.FormatID(sess.ID)) {
			continue
		}
		lastActivity := sess.UpdatedAt
		if lastActivity.Before(sess.StartedAt) {
			lastActivity = sess.StartedAt
		}
		_, err := s.Finalizer.Finalize(ctx, Request{SessionID: sess.ID, EndTime: &lastActivity})
		if err != nil {
			if errors.Is(err, ErrAlreadyFinalized) {
				continue
			}
			logger.Warn().Err(err).
				Int64(xglog.FieldSessionID, sess.ID).
				Str(xglog.FieldEvent, "sweeper.finalize_failed").
				Msg("auto-finalize failed")
			continue
		}
		finalized++
		logger.Info().
			Int64(xglog.FieldSessionID, sess.ID).
			Time("last_activity", lastActivity).
			Str(xglog.FieldEvent, "sweeper.finalized").
			Msg("idle session auto-finalized")
	}
	return finalized, nil
}
