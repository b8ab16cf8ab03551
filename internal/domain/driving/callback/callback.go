// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package callback processes analysis results posted back by the worker:
// it relays them to the live device, records detected conditions and pushes
// the matching spoken feedback.
package callback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/drivecast/internal/cache"
	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/domain/driving/taxonomy"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/metrics"
)

// ErrInvalidPayload is returned when the body is not a JSON result object.
var ErrInvalidPayload = errors.New("invalid callback payload")

// FeedbackVoiceType tags the spoken-feedback message pushed to devices.
const FeedbackVoiceType = "FEEDBACK_VOICE"

// Result is the worker's callback body. Only the fields the receiver acts on
// are decoded; the raw body is relayed unchanged.
type Result struct {
	S3FileKey        string          `json:"s3FileKey"`
	Status           string          `json:"status"`
	ChunkIndex       int             `json:"chunkIndex"`
	DetectedEventIDs []int           `json:"detectedEventIds"`
	ResultsPerFrame  json.RawMessage `json:"resultsPerFrame,omitempty"`
}

// FeedbackMessage is pushed once per recognized condition.
type FeedbackMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"eventId"`
	Message string `json:"message"`
}

// Outcome summarizes what a callback caused.
type Outcome struct {
	Delivered int  `json:"delivered"`
	Recorded  int  `json:"recorded"`
	Duplicate bool `json:"duplicate"`
}

// EventRecorder persists detected conditions.
type EventRecorder interface {
	AppendEvent(ctx context.Context, ev model.Event) (model.Event, error)
}

// Pusher delivers a payload to the live connection of a session.
type Pusher interface {
	Push(ctx context.Context, sessionID string, payload []byte) bool
}

// Receiver handles analysis callbacks. It is safe for concurrent use.
type Receiver struct {
	events    EventRecorder
	pusher    Pusher
	dedupe    cache.Cache
	dedupeTTL time.Duration
	tax       atomic.Pointer[taxonomy.Taxonomy]
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithDedupe drops callbacks whose body was already seen for the session
// within ttl.
func WithDedupe(c cache.Cache, ttl time.Duration) Option {
	return func(r *Receiver) {
		r.dedupe = c
		r.dedupeTTL = ttl
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

// NewReceiver wires the receiver's collaborators.
func NewReceiver(events EventRecorder, pusher Pusher, tax *taxonomy.Taxonomy, opts ...Option) *Receiver {
	r := &Receiver{
		events: events,
		pusher: pusher,
		now:    time.Now,
		logger: xglog.WithComponent("callback"),
	}
	r.tax.Store(tax)
	for _, opt := range opts {
		opt(r)
	}
	if r.dedupe == nil {
		r.dedupe = cache.NewNoOpCache()
	}
	if r.dedupeTTL <= 0 {
		r.dedupeTTL = 10 * time.Minute
	}
	return r
}

// SetTaxonomy swaps the feedback language at runtime.
func (r *Receiver) SetTaxonomy(t *taxonomy.Taxonomy) {
	if t != nil {
		r.tax.Store(t)
	}
}

// Taxonomy returns the active taxonomy.
func (r *Receiver) Taxonomy() *taxonomy.Taxonomy {
	return r.tax.Load()
}

// Handle processes one callback body for sessionID. Failures on individual
// conditions are logged and skipped; only an undecodable body is an error.
// An unknown session is not an error: nothing is delivered and event writes
// fail softly.
func (r *Receiver) Handle(ctx context.Context, sessionID int64, raw []byte) (Outcome, error) {
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		metrics.IncCallback("rejected")
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	id := model.FormatID(sessionID)
	logger := xglog.WithContext(ctx, r.logger).With().
		Str(xglog.FieldSessionID, id).
		Int(xglog.FieldChunkIndex, res.ChunkIndex).
		Logger()

	key := dedupeKey(sessionID, raw)
	fresh, err := r.dedupe.Claim(ctx, key, r.dedupeTTL)
	if err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "callback.dedupe_failed").
			Msg("dedupe check failed, processing anyway")
		fresh = true
	}
	if !fresh {
		metrics.IncCallback("duplicate")
		logger.Info().
			Str(xglog.FieldEvent, "callback.duplicate").
			Msg("duplicate analysis result dropped")
		return Outcome{Duplicate: true}, nil
	}

	var out Outcome
	delivered := r.pusher.Push(ctx, id, raw)
	metrics.IncPush("result", delivered)
	if delivered {
		out.Delivered++
	}

	tax := r.tax.Load()
	for _, code := range res.DetectedEventIDs {
		cond, ok := tax.Lookup(code)
		if !ok {
			logger.Debug().
				Int(xglog.FieldConditionCode, code).
				Str(xglog.FieldEvent, "callback.unknown_code").
				Msg("unknown condition code skipped")
			continue
		}
		feedback := tax.Feedback(cond)

		_, err := r.events.AppendEvent(ctx, model.Event{
			SessionID:  sessionID,
			Code:       cond.Code,
			Type:       cond.Name,
			Severity:   cond.Severity,
			Note:       feedback,
			ChunkIndex: res.ChunkIndex,
			OccurredAt: r.now(),
		})
		if err != nil {
			logger.Error().Err(err).
				Int(xglog.FieldConditionCode, code).
				Str(xglog.FieldEvent, "callback.event_store_failed").
				Msg("failed to record detected condition")
		} else {
			out.Recorded++
		}

		msg, err := json.Marshal(FeedbackMessage{Type: FeedbackVoiceType, EventID: code, Message: feedback})
		if err != nil {
			continue
		}
		ok = r.pusher.Push(ctx, id, msg)
		metrics.IncPush("feedback", ok)
		if ok {
			out.Delivered++
		}
		logger.Info().
			Int(xglog.FieldConditionCode, code).
			Bool(xglog.FieldDelivered, ok).
			Str(xglog.FieldEvent, "callback.feedback").
			Msg(cond.Name)
	}

	metrics.IncCallback("processed")
	logger.Info().
		Str(xglog.FieldEvent, "callback.processed").
		Str("status", res.Status).
		Int("detected", len(res.DetectedEventIDs)).
		Int("recorded", out.Recorded).
		Int("delivered", out.Delivered).
		Msg("analysis result processed")
	return out, nil
}

func dedupeKey(sessionID int64, raw []byte) string {
	sum := sha256.Sum256(raw)
	return "callback:" + model.FormatID(sessionID) + ":" + hex.EncodeToString(sum[:])
}
