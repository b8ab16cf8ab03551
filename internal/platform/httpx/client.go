// Package httpx builds outbound HTTP clients with bounded timeouts.
package httpx

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultClientTimeout         = 5 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultResponseHeaderTimeout = 3 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 16
	defaultMaxIdleConnsPerHost   = 4
)

// Option adjusts a client built by NewClient.
type Option func(*options)

type options struct {
	maxIdleConnsPerHost int
	tracing             bool
	spanName            string
}

// WithMaxIdleConnsPerHost raises the idle pool for clients that fan out to a
// single upstream.
func WithMaxIdleConnsPerHost(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIdleConnsPerHost = n
		}
	}
}

// WithTracing wraps the transport with otelhttp so outbound calls carry trace
// context. operation names the client span.
func WithTracing(operation string) Option {
	return func(o *options) {
		o.tracing = true
		o.spanName = operation
	}
}

// NewClient returns a hardened HTTP client for outbound calls.
func NewClient(timeout time.Duration, opts ...Option) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	o := options{maxIdleConnsPerHost: defaultMaxIdleConnsPerHost}
	for _, opt := range opts {
		opt(&o)
	}

	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}

	responseHeaderTimeout := timeout
	if responseHeaderTimeout > defaultResponseHeaderTimeout {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}

	maxIdle := defaultMaxIdleConns
	if o.maxIdleConnsPerHost > maxIdle {
		maxIdle = o.maxIdleConnsPerHost
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   o.maxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
	if o.tracing {
		name := o.spanName
		transport = otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if name != "" {
					return name
				}
				return "HTTP " + r.Method
			}),
		)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
