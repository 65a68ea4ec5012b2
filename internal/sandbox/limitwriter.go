package sandbox

import (
	"bytes"
	"sync"
)

// limitWriter retains at most max bytes and keeps draining afterwards so
// the subprocess never blocks on a full pipe.
type limitWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitWriter(max int) *limitWriter {
	return &limitWriter{max: max}
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remain := w.max - w.buf.Len()

	switch {
	case remain <= 0:
		w.truncated = true
	case len(p) > remain:
		w.buf.Write(p[:remain])
		w.truncated = true
	default:
		w.buf.Write(p)
	}

	return len(p), nil
}

func (w *limitWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.buf.String()
}

func (w *limitWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.truncated
}
