package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/ManuGH/drivecast/internal/api"
	"github.com/ManuGH/drivecast/internal/auth"
	"github.com/ManuGH/drivecast/internal/cache"
	"github.com/ManuGH/drivecast/internal/dispatch"
	"github.com/ManuGH/drivecast/internal/domain/driving/callback"
	"github.com/ManuGH/drivecast/internal/domain/driving/finalize"
	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/domain/driving/registry"
	"github.com/ManuGH/drivecast/internal/domain/driving/store"
	"github.com/ManuGH/drivecast/internal/domain/driving/taxonomy"
	"github.com/ManuGH/drivecast/internal/objectstore"
	"github.com/ManuGH/drivecast/internal/stream"
	"github.com/ManuGH/drivecast/internal/taskgroup"
)

const deviceToken = "device-token"

// workerRequest is what the analysis worker receives per segment.
type workerRequest struct {
	S3FileKey   string `json:"s3FileKey"`
	CallbackURL string `json:"callbackUrl"`
	ChunkIndex  int    `json:"chunkIndex"`
}

type fakeWorker struct {
	srv  *httptest.Server
	reqs chan workerRequest
}

func newFakeWorker(t *testing.T) *fakeWorker {
	t.Helper()
	w := &fakeWorker{reqs: make(chan workerRequest, 16)}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var req workerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		w.reqs <- req
		rw.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *fakeWorker) next(t *testing.T) workerRequest {
	t.Helper()
	select {
	case req := <-w.reqs:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("analysis worker received no request")
		return workerRequest{}
	}
}

// fileConcat joins the files named in an ffmpeg concat list byte for byte.
type fileConcat struct{}

func (fileConcat) Concat(_ context.Context, listPath, outPath string) error {
	raw, err := os.ReadFile(listPath)
	if err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		path := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		path = strings.ReplaceAll(path, `'\''`, "'")
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		_ = in.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type system struct {
	srv      *httptest.Server
	worker   *fakeWorker
	records  *store.MemoryStore
	objects  *objectstore.MemoryStore
	registry *registry.Registry
	tasks    *taskgroup.Group
}

func newSystem(t *testing.T) *system {
	t.Helper()
	sys := &system{
		worker:   newFakeWorker(t),
		records:  store.NewMemoryStore(),
		objects:  objectstore.NewMemoryStore(),
		registry: registry.New(),
		tasks:    &taskgroup.Group{},
	}

	var root http.Handler
	sys.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root.ServeHTTP(w, r)
	}))
	t.Cleanup(sys.srv.Close)

	table := auth.NewTable([]auth.Entry{{Token: deviceToken, User: "alice"}})
	inner, err := dispatch.NewHTTPDispatcher(dispatch.Config{
		BaseURL:       sys.worker.srv.URL,
		PublicURL:     sys.srv.URL,
		CallbackToken: "worker-secret",
		Timeout:       5 * time.Second,
	})
	require.NoError(t, err)

	dedupe := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { _ = dedupe.Close() })
	receiver := callback.NewReceiver(sys.records, sys.registry, taxonomy.New("en"),
		callback.WithDedupe(dedupe, time.Minute))
	finalizer := finalize.New(sys.records, sys.objects, fileConcat{}, finalize.Config{
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	}, finalize.WithTaskGroup(sys.tasks))

	wsHandler := stream.NewHandler(stream.Config{}, stream.Deps{
		Auth:     table,
		Sessions: sys.records,
		Objects:  sys.objects,
		Registry: sys.registry,
		Dispatch: dispatch.NewBackground(inner, sys.tasks, 5*time.Second),
	})

	root = api.New(api.Config{CallbackToken: "worker-secret"}, api.Deps{
		Stream:    wsHandler,
		Auth:      table,
		Receiver:  receiver,
		Finalizer: finalizer,
		Sessions:  sys.records,
	}).Handler()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, sys.tasks.CloseAndWait(ctx))
	})
	return sys
}

func (sys *system) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	cfg, err := websocket.NewConfig("ws"+strings.TrimPrefix(sys.srv.URL, "http")+"/ws/driving", sys.srv.URL)
	require.NoError(t, err)
	cfg.Header.Set("Authorization", "Bearer "+deviceToken)
	ws, err := websocket.DialConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var raw string
	require.NoError(t, websocket.Message.Receive(ws, &raw))
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m), raw)
	return m
}

func postJSON(t *testing.T, url, token, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestRecordingLifecycle(t *testing.T) {
	sys := newSystem(t)
	ws := sys.dial(t)

	assert.Equal(t, "CONNECTED", readFrame(t, ws)["type"])
	require.NoError(t, websocket.Message.Send(ws, `{"type":"START"}`))
	started := readFrame(t, ws)
	require.Equal(t, "STARTED", started["type"])
	sessionID := int64(started["sessionId"].(float64))

	segments := [][]byte{[]byte("first-"), []byte("second")}
	var keys []string
	for i, seg := range segments {
		require.NoError(t, websocket.Message.Send(ws, seg))
		ack := readFrame(t, ws)
		require.Equal(t, "CHUNK_STORED", ack["type"])
		assert.Equal(t, float64(i+1), ack["chunkIndex"])
		keys = append(keys, ack["key"].(string))
	}

	// Dispatch runs in the background, so arrival order at the worker is not fixed.
	got := map[string]workerRequest{}
	for range segments {
		req := sys.worker.next(t)
		got[req.S3FileKey] = req
	}
	require.Len(t, got, 2)
	first := got[keys[0]]
	assert.Equal(t, 1, first.ChunkIndex)
	assert.Equal(t, sys.srv.URL+"/api/ai-callback/"+model.FormatID(sessionID)+"?token=worker-secret", first.CallbackURL)

	result := `{"s3FileKey":"` + keys[0] + `","status":"done","chunkIndex":1,"detectedEventIds":[11]}`
	resp, body := postJSON(t, first.CallbackURL, "", result)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"received","delivered":2,"recorded":1,"duplicate":false}`, string(body))

	relayed := readFrame(t, ws)
	assert.Equal(t, "done", relayed["status"])
	assert.Equal(t, keys[0], relayed["s3FileKey"])
	feedback := readFrame(t, ws)
	assert.Equal(t, callback.FeedbackVoiceType, feedback["type"])
	assert.Equal(t, float64(11), feedback["eventId"])
	assert.NotEmpty(t, feedback["message"])

	// The same body again is dropped.
	_, body = postJSON(t, first.CallbackURL, "", result)
	assert.JSONEq(t, `{"status":"received","delivered":0,"recorded":0,"duplicate":true}`, string(body))

	// Without the token the worker is turned away.
	resp, _ = postJSON(t, sys.srv.URL+"/api/ai-callback/"+model.FormatID(sessionID), "", result)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, websocket.Message.Send(ws, `{"type":"END"}`))
	ended := readFrame(t, ws)
	assert.Equal(t, "ENDED", ended["type"])
	assert.Equal(t, float64(2), ended["chunks"])

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return sys.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	// A late result is still recorded but reaches nobody.
	late := `{"s3FileKey":"` + keys[1] + `","status":"done","chunkIndex":2,"detectedEventIds":[1]}`
	_, body = postJSON(t, got[keys[1]].CallbackURL, "", late)
	assert.JSONEq(t, `{"status":"received","delivered":0,"recorded":1,"duplicate":false}`, string(body))

	resp, body = postJSON(t, sys.srv.URL+"/api/sessions/"+model.FormatID(sessionID)+"/end", deviceToken, `{"finalScore":120}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var sess model.Session
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, model.ArtifactKey(sessionID), sess.ArtifactKey)
	require.NotNil(t, sess.Score)
	assert.Equal(t, model.MaxScore, *sess.Score)
	require.NotNil(t, sess.EndedAt)

	rc, err := sys.objects.Get(context.Background(), sess.ArtifactKey)
	require.NoError(t, err)
	merged, err := io.ReadAll(rc)
	_ = rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(merged))

	// Finalizing twice conflicts once an artifact exists.
	resp, _ = postJSON(t, sys.srv.URL+"/api/sessions/"+model.FormatID(sessionID)+"/end", deviceToken, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, sys.srv.URL+"/api/sessions/"+model.FormatID(sessionID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+deviceToken)
	getResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var view struct {
		model.Session
		Events []model.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&view))
	require.Len(t, view.Events, 2)
	codes := []int{view.Events[0].Code, view.Events[1].Code}
	assert.ElementsMatch(t, []int{11, 1}, codes)
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	sys := newSystem(t)

	var wg sync.WaitGroup
	ids := make([]int64, 3)
	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = sys.dial(t)
		readFrame(t, conns[i])
	}
	for _, ws := range conns {
		ws := ws
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = websocket.Message.Send(ws, `{"type":"START"}`)
		}()
	}
	wg.Wait()
	for i, ws := range conns {
		started := readFrame(t, ws)
		require.Equal(t, "STARTED", started["type"])
		ids[i] = int64(started["sessionId"].(float64))
	}
	assert.Equal(t, 3, sys.registry.Len())

	target := ids[1]
	resp, _ := postJSON(t, sys.srv.URL+"/api/ai-callback/"+model.FormatID(target)+"?token=worker-secret", "",
		`{"status":"done","chunkIndex":0,"detectedEventIds":[]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg := readFrame(t, conns[1])
	assert.Equal(t, "done", msg["status"])

	// The other connections stay quiet: a PING round trip sees PONG first.
	for _, i := range []int{0, 2} {
		require.NoError(t, websocket.Message.Send(conns[i], `{"type":"PING"}`))
		assert.Equal(t, "PONG", readFrame(t, conns[i])["type"])
	}
}

func TestDisconnectWithoutEndThenLateCallback(t *testing.T) {
	sys := newSystem(t)
	ws := sys.dial(t)

	assert.Equal(t, "CONNECTED", readFrame(t, ws)["type"])
	require.NoError(t, websocket.Message.Send(ws, `{"type":"START"}`))
	started := readFrame(t, ws)
	require.Equal(t, "STARTED", started["type"])
	sessionID := int64(started["sessionId"].(float64))

	for i, seg := range []string{"one", "two"} {
		require.NoError(t, websocket.Message.Send(ws, []byte(seg)))
		ack := readFrame(t, ws)
		require.Equal(t, "CHUNK_STORED", ack["type"])
		assert.Equal(t, float64(i+1), ack["chunkIndex"])
	}
	reqs := []workerRequest{sys.worker.next(t), sys.worker.next(t)}

	// The device drops off without END.
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return sys.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	result := `{"s3FileKey":"` + reqs[1].S3FileKey + `","status":"done","chunkIndex":2,"detectedEventIds":[1]}`
	resp, body := postJSON(t, reqs[1].CallbackURL, "", result)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"received","delivered":0,"recorded":1,"duplicate":false}`, string(body))

	// Disconnect never finalizes.
	sess, err := sys.records.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Nil(t, sess.EndedAt)
	assert.Empty(t, sess.ArtifactKey)
	keys, err := sys.objects.List(context.Background(), model.SegmentPrefix(sessionID))
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
