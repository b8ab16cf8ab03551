// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	SessionIDKey  = "session.id"
	SegmentKeyKey = "segment.key"
	ChunkIndexKey = "segment.chunk_index"

	FinalizeOutcomeKey  = "finalize.outcome"
	FinalizeSegmentsKey = "finalize.segments"

	DispatchEndpointKey = "dispatch.endpoint"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SegmentAttributes describes one segment of a session.
func SegmentAttributes(sessionID int64, key string, chunkIndex int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int64(SessionIDKey, sessionID)}
	if key != "" {
		attrs = append(attrs, attribute.String(SegmentKeyKey, key))
	}
	if chunkIndex > 0 {
		attrs = append(attrs, attribute.Int(ChunkIndexKey, chunkIndex))
	}
	return attrs
}

func FinalizeAttributes(outcome string, segments int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(FinalizeOutcomeKey, outcome),
		attribute.Int(FinalizeSegmentsKey, segments),
	}
}

func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// RecordError marks span as failed. A nil err is ignored.
func RecordError(span trace.Span, err error, errorType string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(ErrorAttributes(errorType)...)
}
