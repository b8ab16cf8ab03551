// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the driving session domain types shared by the
// protocol handler, callback receiver, finalizer and record stores.
package model

import (
	"strconv"
	"time"
)

// Score bounds for a finished session.
const (
	MinScore = 0
	MaxScore = 100
)

// Session is one driving-recording interaction, keyed by a server-issued ID.
type Session struct {
	ID              int64      `json:"id"`
	Owner           string     `json:"owner"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int64      `json:"durationSeconds"`
	Score           *int       `json:"score,omitempty"`
	ArtifactKey     string     `json:"artifactKey,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Ended reports whether an end time has been recorded.
func (s Session) Ended() bool {
	return s.EndedAt != nil
}

// Finalized reports whether the session is ended and has an artifact.
func (s Session) Finalized() bool {
	return s.Ended() && s.ArtifactKey != ""
}

// Key returns the string form of the ID used for registry lookups and logs.
func (s Session) Key() string {
	return FormatID(s.ID)
}

// FormatID renders a session ID in its canonical string form.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses the canonical string form. IDs are positive.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// EndUpdate carries the fields written when a session ends.
type EndUpdate struct {
	EndedAt         time.Time
	DurationSeconds int64
	Score           *int
	ArtifactKey     string
}

// Event is a detected condition recorded against a session.
type Event struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"sessionId"`
	Code       int       `json:"code"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Note       string    `json:"note,omitempty"`
	ChunkIndex int       `json:"chunkIndex,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// DefaultSeverity applies to events recorded without one.
const DefaultSeverity = "low"

// ClampScore bounds a score to [MinScore, MaxScore].
func ClampScore(score int) int {
	return max(MinScore, min(MaxScore, score))
}
