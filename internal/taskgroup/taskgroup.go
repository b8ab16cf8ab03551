// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package taskgroup tracks short-lived background goroutines (analysis
// dispatch, finalization) and provides a bounded join on shutdown.
package taskgroup

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	xglog "github.com/ManuGH/drivecast/internal/log"
)

var (
	tasksInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "drivecast_background_tasks_in_flight",
		Help: "Background tasks currently running, by kind",
	}, []string{"kind"})

	tasksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_background_tasks_rejected_total",
		Help: "Background tasks rejected because the group is closing",
	}, []string{"kind"})
)

// Group runs background tasks and waits for them on shutdown. A panic in a
// task is recovered and logged so one bad task cannot take the process down.
type Group struct {
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Go starts fn unless the group is closing. It reports whether fn was started.
func (g *Group) Go(kind string, fn func()) bool {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		tasksRejected.WithLabelValues(kind).Inc()
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	tasksInFlight.WithLabelValues(kind).Inc()
	go func() {
		defer g.wg.Done()
		defer tasksInFlight.WithLabelValues(kind).Dec()
		defer func() {
			if rec := recover(); rec != nil {
				logger := xglog.WithComponent("taskgroup")
				logger.Error().
					Str(xglog.FieldEvent, "task.panic").
					Str("kind", kind).
					Interface("panic_value", rec).
					Msg("background task panicked")
			}
		}()
		fn()
	}()
	return true
}

// CloseAndWait stops accepting tasks and waits for running ones until ctx ends.
func (g *Group) CloseAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background task drain timeout: %w", ctx.Err())
	}
}
