// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg runs the ffmpeg binary for session video assembly.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/procgroup"
)

var exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "drivecast_ffmpeg_exit_total",
	Help: "ffmpeg process exits, by reason (ok/error/canceled/start_failed)",
}, []string{"reason"})

// ErrExit is returned, wrapped with the stderr tail, when ffmpeg exits non-zero.
var ErrExit = errors.New("ffmpeg exited with error")

// commandFn is swapped in tests to run a fake binary.
var commandFn = exec.Command

const stderrTailLines = 20

// Runner invokes ffmpeg. The zero value is not usable; use NewRunner.
type Runner struct {
	BinPath   string
	KillGrace time.Duration
}

// NewRunner returns a Runner for binPath (default "ffmpeg").
func NewRunner(binPath string, killGrace time.Duration) *Runner {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if killGrace <= 0 {
		killGrace = 5 * time.Second
	}
	return &Runner{BinPath: binPath, KillGrace: killGrace}
}

// ConcatArgs returns the concat-demuxer stream copy invocation.
func ConcatArgs(listPath, outPath string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	}
}

// Concat joins the files named in the concat list at listPath into outPath
// without re-encoding. Cancelling ctx stops the whole process group.
func (r *Runner) Concat(ctx context.Context, listPath, outPath string) error {
	return r.run(ctx, ConcatArgs(listPath, outPath))
}

func (r *Runner) run(ctx context.Context, args []string) error {
	logger := xglog.WithComponentFromContext(ctx, "ffmpeg")
	if err := ctx.Err(); err != nil {
		return err
	}

	ring := NewLineRing(64)
	cmd := commandFn(r.BinPath, args...) // #nosec G204 -- binary comes from operator config
	cmd.Stderr = ring
	procgroup.Set(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		exitTotal.WithLabelValues("start_failed").Inc()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	logger.Debug().
		Int("pid", cmd.Process.Pid).
		Strs("args", args).
		Str(xglog.FieldEvent, "ffmpeg.started").
		Msg("ffmpeg started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, r.KillGrace)
		exitTotal.WithLabelValues("canceled").Inc()
		logger.Warn().
			Dur("elapsed", time.Since(start)).
			Str(xglog.FieldEvent, "ffmpeg.canceled").
			Msg("ffmpeg stopped on cancellation")
		return fmt.Errorf("ffmpeg canceled: %w", ctx.Err())
	}

	if err != nil {
		tail := ring.LastN(stderrTailLines)
		exitTotal.WithLabelValues("error").Inc()
		logger.Warn().
			Err(err).
			Strs("stderr", tail).
			Str(xglog.FieldEvent, "ffmpeg.failed").
			Msg("ffmpeg failed")
		return fmt.Errorf("%w: %v: %s", ErrExit, err, strings.Join(tail, " | "))
	}

	exitTotal.WithLabelValues("ok").Inc()
	logger.Debug().
		Dur("elapsed", time.Since(start)).
		Str(xglog.FieldEvent, "ffmpeg.finished").
		Msg("ffmpeg finished")
	return nil
}
