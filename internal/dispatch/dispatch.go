// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dispatch hands stored segments to the external analysis worker.
//
// A dispatch is fire-and-forget: the worker acknowledges the request and
// reports results later through the callback endpoint.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ManuGH/drivecast/internal/domain/driving/model"
	"github.com/ManuGH/drivecast/internal/platform/httpx"
)

// ErrStatus is returned, wrapped with the code, when the worker answers non-2xx.
var ErrStatus = errors.New("analysis worker returned unexpected status")

// DefaultPath is the worker's asynchronous analysis endpoint.
const DefaultPath = "/analyze_s3_video_async"

// CallbackPathPrefix is where results for a session are posted back.
const CallbackPathPrefix = "/api/ai-callback/"

// Request identifies one stored segment.
type Request struct {
	SessionID  int64
	SegmentKey string
	ChunkIndex int
}

// Dispatcher submits an analysis request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Config configures an HTTPDispatcher.
type Config struct {
	BaseURL       string
	Path          string
	PublicURL     string
	CallbackToken string
	Timeout       time.Duration
	MaxInFlight   int
	RPS           float64
}

// payload matches the worker's request schema.
type payload struct {
	S3FileKey   string `json:"s3FileKey"`
	CallbackURL string `json:"callbackUrl"`
	ChunkIndex  int    `json:"chunkIndex"`
}

// New returns an HTTPDispatcher, or Noop when no worker is configured.
func New(cfg Config) (Dispatcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Noop{}, nil
	}
	return NewHTTPDispatcher(cfg)
}

// HTTPDispatcher posts analysis requests to the worker over HTTP.
type HTTPDispatcher struct {
	client        *http.Client
	endpoint      string
	publicURL     string
	callbackToken string
	sem           *semaphore.Weighted
	limiter       *rate.Limiter
}

// NewHTTPDispatcher validates cfg and builds the client.
func NewHTTPDispatcher(cfg Config) (*HTTPDispatcher, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid analysis base URL %q", cfg.BaseURL)
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	d := &HTTPDispatcher{
		client: httpx.NewClient(cfg.Timeout,
			httpx.WithMaxIdleConnsPerHost(maxInFlight),
			httpx.WithTracing("analysis.dispatch"),
		),
		endpoint:      base.String() + path,
		publicURL:     strings.TrimRight(cfg.PublicURL, "/"),
		callbackToken: cfg.CallbackToken,
		sem:           semaphore.NewWeighted(int64(maxInFlight)),
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return d, nil
}

// Endpoint returns the worker URL requests are posted to.
func (d *HTTPDispatcher) Endpoint() string { return d.endpoint }

// CallbackURL returns the URL the worker posts results for sessionID to.
func (d *HTTPDispatcher) CallbackURL(sessionID int64) string {
	u := d.publicURL + CallbackPathPrefix + model.FormatID(sessionID)
	if d.callbackToken != "" {
		u += "?token=" + url.QueryEscape(d.callbackToken)
	}
	return u
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire dispatch slot: %w", err)
	}
	defer d.sem.Release(1)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("dispatch rate limit: %w", err)
		}
	}

	body, err := json.Marshal(payload{
		S3FileKey:   req.SegmentKey,
		CallbackURL: d.CallbackURL(req.SessionID),
		ChunkIndex:  req.ChunkIndex,
	})
	if err != nil {
		return fmt.Errorf("encode dispatch payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post to analysis worker: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

// Noop discards every request. Used when no analysis worker is configured.
type Noop struct{}

func (Noop) Dispatch(context.Context, Request) error { return nil }
