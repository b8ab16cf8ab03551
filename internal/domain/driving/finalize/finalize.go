// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package finalize ends driving sessions: it records the end time and score
// and assembles the stored segments into a single video artifact.
package finalize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/domain/driving/store"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/metrics"
	"github.com/ManuGH/drivecast/internal/objectstore"
	"github.com/ManuGH/drivecast/internal/taskgroup"
	"github.com/ManuGH/drivecast/internal/telemetry"
)

const taskKind = "finalize"

// Concatenator joins the files listed in a concat list into one output file.
type Concatenator interface {
	Concat(ctx context.Context, listPath, outPath string) error
}

// Request describes one finalize call.
type Request struct {
	SessionID int64
	// Owner must match the session owner. Empty means a system caller such as
	// the idle sweeper, which skips the ownership check.
	Owner         string
	EndTime       *time.Time
	FinalScore    *int
	FinalVideoKey string
}

// Config tunes the finalizer.
type Config struct {
	WorkDir        string
	Timeout        time.Duration
	DeleteSegments bool
}

// Finalizer is safe for concurrent use. Concurrent calls for the same session
// share one execution.
type Finalizer struct {
	records store.Store
	objects objectstore.Store
	concat  Concatenator
	cfg     Config

	flight singleflight.Group
	tasks  *taskgroup.Group
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithClock overrides the default end time source.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) { f.now = now }
}

// WithTaskGroup runs finalizations in tasks so shutdown can drain them.
func WithTaskGroup(tasks *taskgroup.Group) Option {
	return func(f *Finalizer) { f.tasks = tasks }
}

// New wires a Finalizer.
func New(records store.Store, objects objectstore.Store, concat Concatenator, cfg Config, opts ...Option) *Finalizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	f := &Finalizer{
		records: records,
		objects: objects,
		concat:  concat,
		cfg:     cfg,
		now:     time.Now,
		logger:  xglog.WithComponent("finalize"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.tasks == nil {
		f.tasks = &taskgroup.Group{}
	}
	return f
}

// Finalize ends the session described by req and returns the updated record.
//
// The work runs on a context detached from ctx and bounded by the configured
// timeout. If ctx ends first the caller gets ctx.Err() while the work
// completes in the background.
func (f *Finalizer) Finalize(ctx context.Context, req Request) (model.Session, error) {
	sess, err := f.records.Get(ctx, req.SessionID)
	if err != nil {
		return model.Session{}, err
	}
	if req.Owner != "" && sess.Owner != req.Owner {
		return model.Session{}, ErrForbidden
	}
	if req.EndTime != nil && req.EndTime.Before(sess.StartedAt) {
		return model.Session{}, ErrInvalidEndTime
	}

	detached := context.WithoutCancel(ctx)
	ch := make(chan singleflight.Result, 1)
	started := f.tasks.Go(taskKind, func() {
		v, err, _ := f.flight.Do(sess.Key(), func() (any, error) {
			workCtx, cancel := context.WithTimeout(detached, f.cfg.Timeout)
			defer cancel()
			return f.finalize(workCtx, req)
		})
		ch <- singleflight.Result{Val: v, Err: err}
	})
	if !started {
		return model.Session{}, ErrShuttingDown
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Session{}, res.Err
		}
		return res.Val.(model.Session), nil
	case <-ctx.Done():
		return model.Session{}, ctx.Err()
	}
}

func (f *Finalizer) finalize(ctx context.Context, req Request) (_ model.Session, err error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "session.finalize",
		trace.WithAttributes(telemetry.SegmentAttributes(req.SessionID, "", 0)...))
	defer func() {
		telemetry.RecordError(span, err, "finalize")
		span.End()
	}()
	logger := xglog.WithContext(ctx, f.logger).With().
		Int64(xglog.FieldSessionID, req.SessionID).
		Logger()

	// Re-read inside the flight: a call that just finished may have attached
	// an artifact.
	sess, err := f.records.Get(ctx, req.SessionID)
	if err != nil {
		metrics.RecordFinalize("error", time.Since(start).Seconds())
		return model.Session{}, err
	}
	if sess.Finalized() {
		return model.Session{}, ErrAlreadyFinalized
	}

	endedAt := f.now()
	if req.EndTime != nil {
		endedAt = *req.EndTime
	}
	if endedAt.Before(sess.StartedAt) {
		return model.Session{}, ErrInvalidEndTime
	}
	duration := int64(endedAt.Sub(sess.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}

	score := sess.Score
	if req.FinalScore != nil {
		v := model.ClampScore(*req.FinalScore)
		score = &v
	}

	outcome := "provided"
	segments := 0
	artifact := req.FinalVideoKey
	if artifact == "" {
		artifact, segments, err = f.assemble(ctx, sess.ID, logger)
		switch {
		case err != nil:
			outcome = "assembly_failed"
			logger.Error().Err(err).
				Str(xglog.FieldEvent, "finalize.assembly_failed").
				Msg("video assembly failed, ending session without artifact")
		case artifact == "":
			outcome = "no_segments"
		default:
			outcome = "merged"
		}
	}

	updated, err := f.records.End(ctx, sess.ID, model.EndUpdate{
		EndedAt:         endedAt,
		DurationSeconds: duration,
		Score:           score,
		ArtifactKey:     artifact,
	})
	if err != nil {
		metrics.RecordFinalize("error", time.Since(start).Seconds())
		return model.Session{}, fmt.Errorf("persist session end: %w", err)
	}

	metrics.RecordFinalize(outcome, time.Since(start).Seconds())
	span.SetAttributes(telemetry.FinalizeAttributes(outcome, segments)...)
	logger.Info().
		Str(xglog.FieldEvent, "finalize.done").
		Str("outcome", outcome).
		Str(xglog.FieldKey, artifact).
		Int64("duration_s", duration).
		Dur("elapsed", time.Since(start)).
		Msg("session finalized")
	return updated, nil
}

// assemble merges the session's segments and uploads the result. It returns
// an empty key when there is nothing to merge, along with the number of
// segments found.
func (f *Finalizer) assemble(ctx context.Context, id int64, logger zerolog.Logger) (string, int, error) {
	keys, err := f.objects.List(ctx, model.SegmentPrefix(id))
	if err != nil {
		return "", 0, fmt.Errorf("list segments: %w", err)
	}
	segments := keys[:0:0]
	for _, k := range keys {
		if model.IsSegmentKey(k) {
			segments = append(segments, k)
		}
	}
	if len(segments) == 0 {
		logger.Info().
			Str(xglog.FieldEvent, "finalize.no_segments").
			Msg("no segments stored, skipping assembly")
		return "", 0, nil
	}
	model.SortSegmentKeys(segments)

	if err := os.MkdirAll(f.cfg.WorkDir, 0o750); err != nil {
		return "", len(segments), fmt.Errorf("create work dir: %w", err)
	}
	work, err := os.MkdirTemp(f.cfg.WorkDir, fmt.Sprintf("finalize-%d-", id))
	if err != nil {
		return "", len(segments), fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldPath, work).Msg("failed to remove finalize workspace")
		}
	}()
	work, err = filepath.Abs(work)
	if err != nil {
		return "", len(segments), fmt.Errorf("resolve workspace: %w", err)
	}

	var list strings.Builder
	for i, key := range segments {
		local := filepath.Join(work, fmt.Sprintf("seg_%06d.bin", i))
		if err := f.download(ctx, key, local); err != nil {
			return "", len(segments), err
		}
		list.WriteString("file '")
		list.WriteString(escapeConcatPath(local))
		list.WriteString("'\n")
	}

	listPath := filepath.Join(work, "list.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return "", len(segments), fmt.Errorf("write concat list: %w", err)
	}

	outPath := filepath.Join(work, "out.mp4")
	if err := f.concat.Concat(ctx, listPath, outPath); err != nil {
		return "", len(segments), fmt.Errorf("concat segments: %w", err)
	}

	artifact := model.ArtifactKey(id)
	out, err := os.Open(outPath)
	if err != nil {
		return "", len(segments), fmt.Errorf("open merged video: %w", err)
	}
	defer func() { _ = out.Close() }()
	size, err := f.objects.Put(ctx, artifact, out)
	if err != nil {
		return "", len(segments), fmt.Errorf("upload merged video: %w", err)
	}
	logger.Info().
		Str(xglog.FieldEvent, "finalize.merged").
		Str(xglog.FieldKey, artifact).
		Int64(xglog.FieldSize, size).
		Int("segments", len(segments)).
		Msg("segments merged")

	if f.cfg.DeleteSegments {
		for _, key := range segments {
			if err := f.objects.Delete(ctx, key); err != nil {
				logger.Warn().Err(err).Str(xglog.FieldKey, key).Msg("failed to delete merged segment")
			}
		}
	}
	return artifact, len(segments), nil
}

func (f *Finalizer) download(ctx context.Context, key, dst string) error {
	rc, err := f.objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch segment %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create local segment: %w", err)
	}
	if _, err := io.Copy(file, rc); err != nil {
		_ = file.Close()
		return fmt.Errorf("download segment %s: %w", key, err)
	}
	return file.Close()
}

// escapeConcatPath quotes a path for a single-quoted concat list entry.
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
