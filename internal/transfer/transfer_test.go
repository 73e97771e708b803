package transfer_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/multifetch/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	buf    bytes.Buffer
	limit  int // accept at most limit bytes per write when > 0
	closes int
}

func (s *memSink) Write(p []byte) (int, error) {
	if s.limit > 0 && len(p) > s.limit {
		return s.buf.Write(p[:s.limit])
	}

	return s.buf.Write(p)
}

func (s *memSink) Close() error {
	s.closes++

	return nil
}

type memSinks struct {
	sinks   map[string]*memSink
	removed map[string]int
	openErr error
	limit   int
}

func newMemSinks() *memSinks {
	return &memSinks{sinks: map[string]*memSink{}, removed: map[string]int{}}
}

func (m *memSinks) Open(path string) (transfer.Sink, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}

	s := &memSink{limit: m.limit}
	m.sinks[path] = s

	return s, nil
}

func (m *memSinks) Remove(path string) error {
	m.removed[path]++

	return nil
}

func TestNew_OpenFailure(t *testing.T) {
	sinks := newMemSinks()
	sinks.openErr = os.ErrPermission

	tr, err := transfer.New("http://example.com/a", "a.bin", sinks)
	require.Error(t, err)
	assert.Nil(t, tr)

	var ioErr *transfer.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "open", ioErr.Op)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, "io error", transfer.Reason(err))
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		transportErr error
		wantResult   transfer.Result
		wantReason   string
		wantRemoved  int
	}{
		{name: "ok", status: 200, wantResult: transfer.Succeeded},
		{name: "not found", status: 404, wantResult: transfer.Failed, wantReason: "http 404", wantRemoved: 1},
		{name: "transport error", status: 0, transportErr: errors.New("connection refused"), wantResult: transfer.Failed, wantReason: "transport error", wantRemoved: 1},
		{name: "transport error with 200", status: 200, transportErr: io.ErrUnexpectedEOF, wantResult: transfer.Failed, wantReason: "transport error", wantRemoved: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sinks := newMemSinks()

			tr, err := transfer.New("http://example.com/a", "a.bin", sinks)
			require.NoError(t, err)

			_, err = tr.Write([]byte("payload"))
			require.NoError(t, err)

			tr.Finalize(tt.status, tt.transportErr)

			o := tr.Outcome()
			assert.Equal(t, tt.wantResult, o.Result)
			assert.Equal(t, tt.status, o.StatusCode)
			assert.Equal(t, tt.wantReason, o.Reason())
			assert.Equal(t, int64(len("payload")), o.BytesWritten)
			assert.Equal(t, 1, sinks.sinks["a.bin"].closes)
			assert.Equal(t, tt.wantRemoved, sinks.removed["a.bin"])
		})
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	sinks := newMemSinks()

	tr, err := transfer.New("http://example.com/a", "a.bin", sinks)
	require.NoError(t, err)

	tr.Finalize(500, nil)
	tr.Finalize(500, nil)
	tr.Finalize(200, nil)
	tr.Abandon(transfer.ErrCancelled)

	assert.True(t, tr.Finalized())
	assert.Equal(t, 1, sinks.sinks["a.bin"].closes)
	assert.Equal(t, 1, sinks.removed["a.bin"])
	assert.Equal(t, "http 500", tr.Outcome().Reason())
}

func TestWrite_ShortWriteFailsTransfer(t *testing.T) {
	sinks := newMemSinks()
	sinks.limit = 3

	tr, err := transfer.New("http://example.com/a", "a.bin", sinks)
	require.NoError(t, err)

	n, err := tr.Write([]byte("abcdef"))
	assert.Equal(t, 3, n)
	require.ErrorIs(t, err, io.ErrShortWrite)

	// The transport saw the write error and reported a 200 anyway.
	tr.Finalize(200, err)

	o := tr.Outcome()
	assert.Equal(t, transfer.Failed, o.Result)
	assert.Equal(t, "io error", o.Reason())
	assert.Equal(t, 1, sinks.removed["a.bin"])
}

func TestWrite_AfterFinalize(t *testing.T) {
	sinks := newMemSinks()

	tr, err := transfer.New("http://example.com/a", "a.bin", sinks)
	require.NoError(t, err)

	tr.Abandon(transfer.ErrAborted)

	_, err = tr.Write([]byte("late"))
	assert.Error(t, err)
	assert.Equal(t, 0, sinks.sinks["a.bin"].buf.Len())
	assert.Equal(t, "aborted", tr.Outcome().Reason())
}

func TestAbandon_NilReason(t *testing.T) {
	tr, err := transfer.New("http://example.com/a", "a.bin", newMemSinks())
	require.NoError(t, err)

	tr.Abandon(nil)

	assert.ErrorIs(t, tr.Outcome().Err, transfer.ErrAborted)
}

func TestFileSinks_RoundTripAndCleanup(t *testing.T) {
	dir := t.TempDir()
	sinks := transfer.NewFileSinks(dir)

	ok, err := transfer.New("http://example.com/ok", "nested/ok.bin", sinks)
	require.NoError(t, err)
	bad, err := transfer.New("http://example.com/bad", "bad.bin", sinks)
	require.NoError(t, err)

	_, err = ok.Write([]byte("hello world"))
	require.NoError(t, err)
	_, err = bad.Write([]byte("not found page"))
	require.NoError(t, err)

	ok.Finalize(200, nil)
	bad.Finalize(404, nil)

	content, err := os.ReadFile(filepath.Join(dir, "nested", "ok.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	_, err = os.Stat(filepath.Join(dir, "bad.bin"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileSinks_OpenInvalidPath(t *testing.T) {
	dir := t.TempDir()

	// A regular file cannot act as a parent directory.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0o644))

	_, err := transfer.New("http://example.com/a", "file/child.bin", transfer.NewFileSinks(dir))
	assert.Error(t, err)
}

func TestFileSinks_RemoveMissing(t *testing.T) {
	sinks := transfer.NewFileSinks(t.TempDir())

	assert.NoError(t, sinks.Remove("missing.bin"))
}
