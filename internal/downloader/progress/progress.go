package progress

import "io"

// Writer wraps a sink and reports the cumulative byte count every interval
// bytes and once more on Close.
type Writer struct {
	w              io.WriteCloser
	onProgress     func(written int64)
	written        int64
	sinceReport    int64
	reportInterval int64
}

func NewWriter(w io.WriteCloser, interval int64, cb func(written int64)) *Writer {
	return &Writer{
		w:              w,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.written += int64(n)
		pw.sinceReport += int64(n)

		if pw.reportInterval > 0 && pw.sinceReport >= pw.reportInterval {
			pw.onProgress(pw.written)
			pw.sinceReport = 0
		}
	}

	return n, err
}

func (pw *Writer) Close() error {
	if pw.sinceReport > 0 {
		pw.onProgress(pw.written)
		pw.sinceReport = 0
	}

	return pw.w.Close()
}

// Written returns the number of bytes accepted by the wrapped sink.
func (pw *Writer) Written() int64 {
	return pw.written
}
