// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package finalize

import "errors"

var (
	// ErrForbidden is returned when the caller does not own the session.
	ErrForbidden = errors.New("session belongs to another user")
	// ErrAlreadyFinalized is returned when the session already has an artifact.
	ErrAlreadyFinalized = errors.New("session already finalized")
	// ErrInvalidEndTime is returned when the end time precedes the start time.
	ErrInvalidEndTime = errors.New("end time precedes start time")
	// ErrShuttingDown is returned when the process no longer accepts work.
	ErrShuttingDown = errors.New("finalizer is shutting down")
)
