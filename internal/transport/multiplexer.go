package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultBufferSize = 32 * 1024

// Options configures the HTTP multiplexer.
type Options struct {
	// RoundTripper replaces the default transport. It is still wrapped with
	// OpenTelemetry instrumentation. Request.ConnectTimeout is only honored by
	// the default transport; a custom RoundTripper must bound its own dials.
	RoundTripper http.RoundTripper

	// BufferSize is the size of the chunks handed to Request.Write.
	// Default: 32KiB
	BufferSize int

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		BufferSize: defaultBufferSize,
	}
}

type entry struct {
	req      Request
	started  bool
	finished bool
	cancel   context.CancelFunc
}

// HTTPMultiplexer drives many HTTP GET transfers at once. Each started
// transfer runs its network I/O on its own goroutine; the caller only
// observes it through Perform, Wait, InfoRead and Remove, which are safe for
// concurrent use.
type HTTPMultiplexer struct {
	client *http.Client
	opts   Options

	mu      sync.Mutex
	next    Handle
	entries map[Handle]*entry
	pending []Handle
	done    []Completion
	running int
	closed  bool
	notify  chan struct{}
}

// NewHTTPMultiplexer creates a multiplexer with the given options.
func NewHTTPMultiplexer(opts Options) *HTTPMultiplexer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}

	rt := opts.RoundTripper
	if rt == nil {
		rt = newHTTPTransport()
	}

	return &HTTPMultiplexer{
		client:  &http.Client{Transport: otelhttp.NewTransport(rt)},
		opts:    opts,
		entries: make(map[Handle]*entry),
		notify:  make(chan struct{}, 1),
	}
}

// Add registers a transfer. It does not start until the next Perform.
func (m *HTTPMultiplexer) Add(req Request) (Handle, error) {
	if req.URL == "" {
		return 0, ErrInvalidURL
	}

	if req.Write == nil {
		return 0, ErrNoWriter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	m.next++
	h := m.next

	m.entries[h] = &entry{req: req}
	m.pending = append(m.pending, h)

	return h, nil
}

// Perform starts every added transfer and returns the number still running.
func (m *HTTPMultiplexer) Perform() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	for _, h := range m.pending {
		e, ok := m.entries[h]
		if !ok {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		e.started = true
		e.cancel = cancel
		m.running++

		go m.run(ctx, h, e.req)
	}

	m.pending = nil

	return m.running, nil
}

// Wait blocks until at least one completion is available, d elapses or ctx is
// done. A timeout is not an error. It returns immediately when nothing is in
// flight.
func (m *HTTPMultiplexer) Wait(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return ErrClosed
	}

	if len(m.done) > 0 || m.running == 0 {
		m.mu.Unlock()

		return nil
	}
	m.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-m.notify:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	return nil
}

// InfoRead drains the completions reported since the last call, in the order
// they finished.
func (m *HTTPMultiplexer) InfoRead() []Completion {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.done
	m.done = nil

	return out
}

// Remove deregisters a transfer, cancelling it when it is still running. Any
// unread completion of the handle is discarded.
func (m *HTTPMultiplexer) Remove(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[h]
	if !ok {
		return fmt.Errorf("remove handle %d: %w", h, ErrUnknownHandle)
	}

	delete(m.entries, h)

	if e.started && !e.finished {
		m.running--
	}

	if e.cancel != nil {
		e.cancel()
	}

	for i, c := range m.done {
		if c.Handle == h {
			m.done = append(m.done[:i], m.done[i+1:]...)

			break
		}
	}

	return nil
}

// Running returns the number of started transfers that have not finished.
func (m *HTTPMultiplexer) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running
}

// Close cancels every transfer. Later calls to Add, Perform and Wait fail
// with ErrClosed.
func (m *HTTPMultiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	for _, e := range m.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}

	m.client.CloseIdleConnections()

	// Wake a blocked Wait so it observes the close.
	select {
	case m.notify <- struct{}{}:
	default:
	}

	return nil
}

func (m *HTTPMultiplexer) run(ctx context.Context, h Handle, req Request) {
	ctx = withConnectTimeout(ctx, req.ConnectTimeout)

	if req.TotalTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, req.TotalTimeout)
		defer cancel()
	}

	status, err := m.fetch(ctx, req)
	m.complete(h, status, err)
}

func (m *HTTPMultiplexer) fetch(ctx context.Context, req Request) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	if m.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", m.opts.UserAgent)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	buf := make([]byte, m.opts.BufferSize)

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			written, werr := req.Write(buf[:n])
			if werr != nil {
				return resp.StatusCode, werr
			}

			if written != n {
				return resp.StatusCode, io.ErrShortWrite
			}
		}

		if errors.Is(rerr, io.EOF) {
			return resp.StatusCode, nil
		}

		if rerr != nil {
			return resp.StatusCode, rerr
		}
	}
}

func (m *HTTPMultiplexer) complete(h Handle, status int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[h]
	if !ok || e.finished {
		// Removed while running; Remove already settled the accounting.
		return
	}

	e.finished = true
	m.running--
	m.done = append(m.done, Completion{Handle: h, StatusCode: status, Err: err})

	select {
	case m.notify <- struct{}{}:
	default:
	}
}
