// Package transport provides a handle-based multiplexer of HTTP GET transfers:
// transfers are added, started by Perform, waited on with a bounded Wait and
// collected with InfoRead.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

var (
	ErrClosed        = errors.New("transport: multiplexer closed")
	ErrUnknownHandle = errors.New("transport: unknown handle")
	ErrInvalidURL    = errors.New("transport: empty url")
	ErrNoWriter      = errors.New("transport: request has no write callback")
)

// Handle identifies a transfer inside a multiplexer. Handles are never reused
// by the multiplexer that assigned them.
type Handle uint64

// Request configures a single transfer.
type Request struct {
	URL string

	// ConnectTimeout bounds connection establishment. Zero keeps the dialer
	// default.
	ConnectTimeout time.Duration

	// TotalTimeout bounds the whole transfer. Zero means no limit.
	TotalTimeout time.Duration

	// Write receives the body in receipt order. Returning an error, or fewer
	// bytes than given, aborts the transfer.
	Write func(p []byte) (int, error)
}

// Completion reports a finished transfer.
type Completion struct {
	Handle     Handle
	StatusCode int
	Err        error
}

type connectTimeoutKey struct{}

func withConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	if d <= 0 {
		return ctx
	}

	return context.WithValue(ctx, connectTimeoutKey{}, d)
}

// dialerFor returns a copy of base using the connect timeout carried by ctx.
func dialerFor(ctx context.Context, base *net.Dialer) *net.Dialer {
	d := *base
	if timeout, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok {
		d.Timeout = timeout
	}

	return &d
}

// dialContext applies the connect timeout carried by the request context.
func dialContext(base *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialerFor(ctx, base).DialContext(ctx, network, addr)
	}
}

func newHTTPTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialContext(&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	})
	t.MaxIdleConnsPerHost = 16

	return t
}
