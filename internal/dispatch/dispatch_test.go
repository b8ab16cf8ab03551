package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/drivecast/internal/taskgroup"
)

func TestNew_NoBaseURLReturnsNoop(t *testing.T) {
	d, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, d)
	assert.NoError(t, d.Dispatch(context.Background(), Request{SessionID: 1}))
}

func TestNewHTTPDispatcher_RejectsInvalidBaseURL(t *testing.T) {
	_, err := NewHTTPDispatcher(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestHTTPDispatcher_PostsWorkerPayload(t *testing.T) {
	type received struct {
		path, contentType string
		body              map[string]any
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- received{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, err := NewHTTPDispatcher(Config{
		BaseURL:       srv.URL + "/",
		PublicURL:     "https://drive.example.com/",
		CallbackToken: "s3cr3t",
		Timeout:       time.Second,
	})
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), Request{SessionID: 42, SegmentKey: "sessions/42/x.bin", ChunkIndex: 3})
	require.NoError(t, err)

	r := <-got
	assert.Equal(t, DefaultPath, r.path)
	assert.Equal(t, "application/json", r.contentType)
	assert.Equal(t, "sessions/42/x.bin", r.body["s3FileKey"])
	assert.Equal(t, "https://drive.example.com/api/ai-callback/42?token=s3cr3t", r.body["callbackUrl"])
	assert.EqualValues(t, 3, r.body["chunkIndex"])
}

func TestHTTPDispatcher_CustomPath(t *testing.T) {
	d, err := NewHTTPDispatcher(Config{BaseURL: "http://worker:8000", Path: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, "http://worker:8000/analyze", d.Endpoint())
	assert.Equal(t, "/api/ai-callback/7", d.CallbackURL(7))
}

func TestHTTPDispatcher_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, err := NewHTTPDispatcher(Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), Request{SessionID: 1, SegmentKey: "k", ChunkIndex: 1})
	require.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPDispatcher_BoundsInFlight(t *testing.T) {
	var current, peak atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewHTTPDispatcher(Config{BaseURL: srv.URL, Timeout: 5 * time.Second, MaxInFlight: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, d.Dispatch(context.Background(), Request{SessionID: 1, ChunkIndex: i}))
		}(i)
	}

	require.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), peak.Load())
}

func TestHTTPDispatcher_AcquireRespectsContext(t *testing.T) {
	entered := make(chan struct{})
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-block
	}))
	defer srv.Close()

	d, err := NewHTTPDispatcher(Config{BaseURL: srv.URL, Timeout: 5 * time.Second, MaxInFlight: 1})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(context.Background(), Request{SessionID: 1}) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = d.Dispatch(ctx, Request{SessionID: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	require.NoError(t, <-done)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	reqs  []Request
	block chan struct{}
	err   error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, req Request) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return r.err
}

func (r *recordingDispatcher) requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.reqs...)
}

func TestBackground_SurvivesCallerCancel(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	inner := &recordingDispatcher{block: make(chan struct{})}
	var tasks taskgroup.Group
	b := NewBackground(inner, &tasks, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, b.Submit(ctx, Request{SessionID: 9, SegmentKey: "k", ChunkIndex: 1}))
	cancel()
	close(inner.block)

	require.NoError(t, tasks.CloseAndWait(context.Background()))
	assert.Equal(t, []Request{{SessionID: 9, SegmentKey: "k", ChunkIndex: 1}}, inner.requests())
}

func TestBackground_TimeoutBoundsDispatch(t *testing.T) {
	inner := &recordingDispatcher{block: make(chan struct{})}
	var tasks taskgroup.Group
	b := NewBackground(inner, &tasks, 20*time.Millisecond)

	require.True(t, b.Submit(context.Background(), Request{SessionID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tasks.CloseAndWait(ctx), "dispatch must give up after its own timeout")
	assert.Empty(t, inner.requests())
}

func TestBackground_RejectsAfterClose(t *testing.T) {
	var tasks taskgroup.Group
	require.NoError(t, tasks.CloseAndWait(context.Background()))

	b := NewBackground(&recordingDispatcher{}, &tasks, time.Second)
	assert.False(t, b.Submit(context.Background(), Request{SessionID: 1}))
}
