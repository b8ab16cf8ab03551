// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID    = "session_id"
	FieldConnectionID = "connection_id"
	FieldRequestID    = "request_id"
	FieldPrincipal    = "principal_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Segment fields
	FieldChunkIndex = "chunk_index"
	FieldKey        = "key"
	FieldSize       = "size"

	// Analysis fields
	FieldConditionCode = "condition_code"
	FieldDelivered     = "delivered"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
