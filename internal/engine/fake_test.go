package engine_test

import (
	"context"
	"time"

	"github.com/italolelis/multifetch/internal/transport"
)

// response scripts what the fake multiplexer does for a URL.
type response struct {
	status int
	body   string
	err    error
	hang   bool // never completes
}

// fakeMux performs a scripted transfer synchronously on the first Perform
// after it was added.
type fakeMux struct {
	responses map[string]response
	next      transport.Handle
	reqs      map[transport.Handle]transport.Request
	started   map[transport.Handle]bool
	queue     []transport.Completion
	removed   []transport.Handle

	fixedHandle transport.Handle // when non-zero, every Add returns it
	extra       []transport.Completion
	waitErr     error
	failOnWait  int // Wait call number that returns waitErr
	waits       int
	onWait      func()
}

func newFakeMux(responses map[string]response) *fakeMux {
	return &fakeMux{
		responses: responses,
		reqs:      make(map[transport.Handle]transport.Request),
		started:   make(map[transport.Handle]bool),
	}
}

func (m *fakeMux) Add(req transport.Request) (transport.Handle, error) {
	h := m.fixedHandle
	if h == 0 {
		m.next++
		h = m.next
	}

	m.reqs[h] = req

	return h, nil
}

func (m *fakeMux) Perform() (int, error) {
	running := 0

	for h, req := range m.reqs {
		if m.started[h] {
			running++

			continue
		}

		m.started[h] = true

		resp := m.responses[req.URL]
		if resp.hang {
			running++

			continue
		}

		c := transport.Completion{Handle: h, StatusCode: resp.status, Err: resp.err}

		if resp.err == nil && resp.body != "" {
			if n, err := req.Write([]byte(resp.body)); err != nil || n != len(resp.body) {
				c.Err = err
			}
		}

		m.queue = append(m.queue, c)
	}

	return running, nil
}

func (m *fakeMux) Wait(ctx context.Context, _ time.Duration) error {
	m.waits++

	if m.onWait != nil {
		m.onWait()
	}

	if m.waitErr != nil && m.waits >= m.failOnWait {
		return m.waitErr
	}

	return ctx.Err()
}

func (m *fakeMux) InfoRead() []transport.Completion {
	out := append(m.queue, m.extra...)
	m.queue = nil
	m.extra = nil

	return out
}

func (m *fakeMux) Remove(h transport.Handle) error {
	delete(m.reqs, h)
	delete(m.started, h)
	m.removed = append(m.removed, h)

	return nil
}
