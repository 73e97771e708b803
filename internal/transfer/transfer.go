package transfer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result is the final state of a transfer.
type Result int

const (
	Pending Result = iota
	Succeeded
	Failed
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Transfer holds everything a single download needs: where it comes from,
// where its bytes go and how it ended.
type Transfer struct {
	URL         string
	Destination string

	mu           sync.Mutex
	sinks        SinkFactory
	sink         Sink
	finalized    bool
	statusCode   int
	result       Result
	err          error
	writeErr     error
	bytesWritten int64
	createdAt    time.Time
	finishedAt   time.Time
}

// Outcome is the read-only view of a transfer once it is finalized.
type Outcome struct {
	URL          string
	Destination  string
	Result       Result
	StatusCode   int
	Err          error
	BytesWritten int64
	Duration     time.Duration
}

// Reason is the short failure reason, empty for successful transfers.
func (o Outcome) Reason() string {
	return Reason(o.Err)
}

// New opens the output sink for destination. Nothing about the transfer is
// registered anywhere when it fails.
func New(url, destination string, sinks SinkFactory) (*Transfer, error) {
	sink, err := sinks.Open(destination)
	if err != nil {
		return nil, &IOError{Op: "open", Path: destination, Err: err}
	}

	return &Transfer{
		URL:         url,
		Destination: destination,
		sinks:       sinks,
		sink:        sink,
		createdAt:   time.Now(),
	}, nil
}

// Failure builds the outcome of a target that never became a transfer, for
// example because its sink could not be opened.
func Failure(url, destination string, err error) Outcome {
	return Outcome{
		URL:         url,
		Destination: destination,
		Result:      Failed,
		Err:         err,
	}
}

// Write is the chunk callback of the transfer. A short write is reported as
// an error so the transport aborts the transfer.
func (t *Transfer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finalized {
		return 0, &IOError{Op: "write", Path: t.Destination, Err: io.ErrClosedPipe}
	}

	if t.writeErr != nil {
		return 0, t.writeErr
	}

	n, err := t.sink.Write(p)
	t.bytesWritten += int64(n)

	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}

	if err != nil {
		t.writeErr = &IOError{Op: "write", Path: t.Destination, Err: err}

		return n, t.writeErr
	}

	return n, nil
}

// Finalize closes the sink and settles the result: the transfer succeeded only
// when the transport reported no error and the final status was 200. A failed
// transfer has its output artifact removed. Calls after the first are no-ops.
func (t *Transfer) Finalize(statusCode int, transportErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finalized {
		return
	}

	var reason error

	switch {
	case t.writeErr != nil:
		reason = t.writeErr
	case transportErr != nil:
		reason = classify(t.URL, transportErr)
	case statusCode != http.StatusOK:
		reason = &HTTPStatusError{URL: t.URL, StatusCode: statusCode}
	}

	t.statusCode = statusCode
	t.settle(reason)
}

// Abandon finalizes a transfer that will never complete, with reason as its
// failure cause.
func (t *Transfer) Abandon(reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finalized {
		return
	}

	if reason == nil {
		reason = ErrAborted
	}

	t.settle(reason)
}

// settle must be called with the lock held.
func (t *Transfer) settle(reason error) {
	t.finalized = true
	t.finishedAt = time.Now()

	if err := t.sink.Close(); err != nil && reason == nil {
		reason = &IOError{Op: "close", Path: t.Destination, Err: err}
	}

	if reason == nil {
		t.result = Succeeded

		return
	}

	t.result = Failed
	t.err = reason

	if err := t.sinks.Remove(t.Destination); err != nil {
		t.err = errors.Join(reason, &IOError{Op: "remove", Path: t.Destination, Err: err})
	}
}

// Finalized reports whether Finalize or Abandon already ran.
func (t *Transfer) Finalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.finalized
}

// Outcome returns the current view of the transfer.
func (t *Transfer) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := Outcome{
		URL:          t.URL,
		Destination:  t.Destination,
		Result:       t.result,
		StatusCode:   t.statusCode,
		Err:          t.err,
		BytesWritten: t.bytesWritten,
	}

	if t.finalized {
		o.Duration = t.finishedAt.Sub(t.createdAt)
	}

	return o
}

func classify(url string, err error) error {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}

	return &TransportError{URL: url, Err: err}
}

func (o Outcome) String() string {
	if o.Result == Failed {
		return fmt.Sprintf("%s: %s (%s)", o.URL, o.Result, o.Reason())
	}

	return fmt.Sprintf("%s: %s", o.URL, o.Result)
}
