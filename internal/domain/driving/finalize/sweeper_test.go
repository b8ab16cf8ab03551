package finalize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/drivecast/internal/domain/driving/model"
)

type liveSet map[string]bool

func (l liveSet) Has(id string) bool { return l[id] }

func TestSweeper_SweepOnce_FinalizesIdleUnregisteredSessions(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	idle := h.session(t, "alice")
	lastActivity := t0.Add(30 * time.Second)
	require.NoError(t, h.records.Touch(ctx, idle.ID, lastActivity))
	h.putSegment(t, idle.ID, lastActivity, 1, "A")

	live := h.session(t, "bob")
	require.NoError(t, h.records.Touch(ctx, live.ID, lastActivity))

	fresh := h.session(t, "carol")
	require.NoError(t, h.records.Touch(ctx, fresh.ID, t0.Add(50*time.Minute)))

	sw := &Sweeper{
		Finalizer: h.f,
		Records:   h.records,
		Live:      liveSet{model.FormatID(live.ID): true},
		Conf:      SweeperConfig{Interval: time.Minute, IdleAfter: 15 * time.Minute},
		Now:       func() time.Time { return t0.Add(time.Hour) },
	}

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.records.Get(ctx, idle.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(lastActivity), "ended at last activity")
	assert.Equal(t, int64(30), got.DurationSeconds)
	assert.Equal(t, model.ArtifactKey(idle.ID), got.ArtifactKey)

	for _, id := range []int64{live.ID, fresh.ID} {
		s, err := h.records.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, s.Ended())
	}

	n, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "ended sessions are not swept again")
}

func TestSweeper_RunDisabled(t *testing.T) {
	sw := &Sweeper{Conf: SweeperConfig{Interval: time.Minute}}
	done := make(chan struct{})
	go func() {
		sw.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return immediately when IdleAfter is zero")
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, Config{})
	sw := &Sweeper{
		Finalizer: h.f,
		Records:   h.records,
		Conf:      SweeperConfig{Interval: 5 * time.Millisecond, IdleAfter: time.Minute},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
}
