package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted marks transfers finalized because the whole batch was aborted
	// by a multiplexer failure.
	ErrAborted = errors.New("aborted")

	// ErrCancelled marks transfers finalized because the batch context was
	// cancelled before they completed.
	ErrCancelled = errors.New("cancelled")
)

// IOError represents a local sink failure: the destination could not be
// opened, written or removed.
type IOError struct {
	Op   string // "open", "write", "close" or "remove"
	Path string // Destination path of the sink
	Err  error  // Underlying error, if any
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// TransportError represents a failure of the underlying transfer layer such
// as a refused connection, a DNS failure or a timeout.
type TransportError struct {
	URL string // Target URL of the transfer
	Err error  // Underlying error, if any
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError represents a transfer that completed at the transport level
// with a final status other than 200.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET of %s returned http status code %d", e.URL, e.StatusCode)
}

// HandleNotFoundError is reported when the multiplexer signals completion of a
// handle the registry does not know about.
type HandleNotFoundError struct {
	Handle uint64
}

func (e *HandleNotFoundError) Error() string {
	return fmt.Sprintf("handle %d not found in registry", e.Handle)
}

// DuplicateHandleError is an invariant violation: the multiplexer handed out a
// handle that is still in flight.
type DuplicateHandleError struct {
	Handle uint64
}

func (e *DuplicateHandleError) Error() string {
	return fmt.Sprintf("handle %d already registered", e.Handle)
}

// MultiplexerError represents a failure of the multiplexer itself, as opposed
// to a failure of any single transfer. It aborts the whole batch.
type MultiplexerError struct {
	Operation string // "perform" or "wait"
	InFlight  int    // Number of transfers aborted because of this error
	Err       error  // Underlying error, if any
}

func (e *MultiplexerError) Error() string {
	return fmt.Sprintf("multiplexer error during %s (%d in flight): %v", e.Operation, e.InFlight, e.Err)
}

func (e *MultiplexerError) Unwrap() error {
	return e.Err
}

// Reason returns the short, user-facing reason for a failed transfer.
func Reason(err error) string {
	var (
		statusErr    *HTTPStatusError
		ioErr        *IOError
		transportErr *TransportError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http %d", statusErr.StatusCode)
	case errors.As(err, &ioErr):
		return "io error"
	case errors.As(err, &transportErr):
		return "transport error"
	default:
		return err.Error()
	}
}
