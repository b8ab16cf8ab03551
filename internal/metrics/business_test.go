// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

func TestPromhttpExposure(t *testing.T) {
	IncCallback("processed")

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "drivecast_callback_total"))
}

func TestRecordSegment(t *testing.T) {
	beforeStored := testutil.ToFloat64(segmentsTotal.WithLabelValues("stored"))
	beforeBytes := testutil.ToFloat64(segmentBytesTotal)

	RecordSegment("stored", 1024)
	RecordSegment("store_failed", 4096)

	assert.Equal(t, beforeStored+1, testutil.ToFloat64(segmentsTotal.WithLabelValues("stored")))
	assert.Equal(t, beforeBytes+1024, testutil.ToFloat64(segmentBytesTotal), "failed segments must not count bytes")
}

func TestIncPush(t *testing.T) {
	before := testutil.ToFloat64(pushTotal.WithLabelValues("feedback", "false"))
	IncPush("feedback", false)
	assert.Equal(t, before+1, testutil.ToFloat64(pushTotal.WithLabelValues("feedback", "false")))
}

func TestIncControlMessageDefaultsUnknown(t *testing.T) {
	before := testutil.ToFloat64(controlMessagesTotal.WithLabelValues("unknown"))
	IncControlMessage("")
	assert.Equal(t, before+1, testutil.ToFloat64(controlMessagesTotal.WithLabelValues("unknown")))
}

func TestRecordDispatchObservesHistogram(t *testing.T) {
	RecordDispatch("ok", 0.25)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var hist *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "drivecast_dispatch_duration_seconds" {
			hist = mf
		}
	}
	require.NotNil(t, hist)
	require.Equal(t, dto.MetricType_HISTOGRAM, hist.GetType())
	assert.GreaterOrEqual(t, hist.GetMetric()[0].GetHistogram().GetSampleCount(), uint64(1))
}
