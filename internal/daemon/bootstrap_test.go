// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/ManuGH/drivecast/internal/config"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Version = "test"
	cfg.DataDir = t.TempDir()
	cfg.Server.ListenAddr = reserveListenAddr(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Records.Backend = "memory"
	cfg.Storage.Backend = "memory"
	cfg.Finalize.WorkDir = t.TempDir()
	cfg.Metrics.Enabled = false
	cfg.API.Tokens = []config.TokenConfig{{Token: "device-token", User: "alice"}}
	return cfg
}

func runApp(t *testing.T, app *App) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("app did not stop")
			return nil
		}
	}
}

func TestBootstrap_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	app, err := Bootstrap(context.Background(), cfg, nil)
	require.NoError(t, err)

	stop := runApp(t, app)
	require.NoError(t, waitForListen(cfg.Server.ListenAddr, 2*time.Second))
	base := "http://" + cfg.Server.ListenAddr

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(base + "/readyz")
	require.NoError(t, err)
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	_ = resp.Body.Close()
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, map[string]string{"records": "ok", "objects": "ok", "dedupe": "ok"}, ready.Checks)

	wsCfg, err := websocket.NewConfig("ws://"+cfg.Server.ListenAddr+"/ws/driving?token=device-token", base)
	require.NoError(t, err)
	ws, err := websocket.DialConfig(wsCfg)
	require.NoError(t, err)
	defer ws.Close()

	var greeting string
	require.NoError(t, websocket.Message.Receive(ws, &greeting))
	assert.Contains(t, greeting, `"CONNECTED"`)
	require.NoError(t, websocket.Message.Send(ws, `{"type":"START"}`))
	var started string
	require.NoError(t, websocket.Message.Receive(ws, &started))
	assert.True(t, strings.Contains(started, `"STARTED"`), started)

	require.NoError(t, stop())

	// Shutdown closes hijacked websocket connections too.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	assert.Error(t, websocket.Message.Receive(ws, &msg))
}

func TestBootstrap_InvalidBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "tape"
	_, err := Bootstrap(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object store")
}

func TestBootstrap_InvalidAnalysisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.BaseURL = "::not a url"
	_, err := Bootstrap(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis dispatch")
}
