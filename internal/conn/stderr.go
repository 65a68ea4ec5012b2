package conn

import (
	"strings"
	"sync"
)

// maxStderrBufferSize caps the stderr buffer kept per stdio server.
// Stderr keeps draining after the cap so the subprocess never blocks,
// but the buffer stops growing.
const maxStderrBufferSize = 256 * 1024

// stderrRecorder is an io.Writer that retains a capped copy of a stdio
// server's stderr for inclusion in connection error reports.
type stderrRecorder struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (r *stderrRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() < maxStderrBufferSize {
		remain := maxStderrBufferSize - r.buf.Len()
		if len(p) > remain {
			r.buf.Write(p[:remain])
		} else {
			r.buf.Write(p)
		}
	}

	return len(p), nil
}

// String returns the captured stderr, trimmed.
func (r *stderrRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return strings.TrimSpace(r.buf.String())
}
