// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

var errConnClosed = errors.New("connection closed")

// frame is one received websocket message.
type frame struct {
	binary bool
	data   []byte
}

// frameCodec keeps the payload type so binary segments and text control
// messages can share one read loop.
var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		switch p := v.(type) {
		case []byte:
			return p, websocket.BinaryFrame, nil
		case string:
			return []byte(p), websocket.TextFrame, nil
		default:
			return nil, 0, websocket.ErrNotSupported
		}
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		f, ok := v.(*frame)
		if !ok {
			return websocket.ErrNotSupported
		}
		f.binary = payloadType == websocket.BinaryFrame
		f.data = data
		return nil
	},
}

// conn is the write side of one websocket. It satisfies registry.Conn, so
// callback pushes and protocol replies share the same serialized writer.
type conn struct {
	ws           *websocket.Conn
	id           string
	writeTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

func newConn(ws *websocket.Conn, id string, writeTimeout time.Duration) *conn {
	return &conn{ws: ws, id: id, writeTimeout: writeTimeout}
}

// Send writes payload as one text frame.
func (c *conn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := frameCodec.Send(c.ws, string(payload)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *conn) Closed() bool { return c.closed.Load() }

func (c *conn) markClosed() { c.closed.Store(true) }

// close marks the conn closed and closes the socket once pending writes finish.
func (c *conn) close() error {
	c.markClosed()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Close()
}

func (c *conn) sendJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	return c.Send(ctx, b)
}
