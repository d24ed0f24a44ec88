package transport

import (
	"io"
	"sync/atomic"
)

// CountingWriter wraps an io.Writer and tallies bytes written through it.
// The compressed snapshot size reported to observability comes from here.
// Count may be read concurrently with in-flight writes.
type CountingWriter struct {
	w     io.Writer
	count atomic.Int64
}

// NewCountingWriter returns a CountingWriter wrapping w.
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

// Write forwards p to the wrapped writer and records the bytes accepted.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.count.Add(int64(n))
	return n, err
}

// Count returns the total bytes written so far.
func (cw *CountingWriter) Count() int64 {
	return cw.count.Load()
}
