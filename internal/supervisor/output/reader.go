package output

import (
	"io"
	"sync/atomic"
)

// reader streams a Capture's buffer from the beginning, blocking for more
// data until the capture finishes. It implements io.ReadCloser; Subscribe
// hands one to each output-streaming client. Safe for concurrent use.
type reader struct {
	offset int
	closed atomic.Bool

	c *Capture
}

// Read copies buffered data past the reader's offset, blocking while the
// capture is still live and nothing new has arrived. Once the reader is
// closed, or the capture is done and fully consumed, it returns io.EOF.
func (r *reader) Read(p []byte) (int, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	// The broadcast fires on both new data and capture completion.
	for r.offset >= len(r.c.buffer) && !r.finished() {
		r.c.cond.Wait()
	}

	if r.finished() {
		return 0, io.EOF
	}

	n := copy(p, r.c.buffer[r.offset:])
	r.offset += n

	return n, nil
}

// Close unsubscribes the reader and unblocks any pending Read.
func (r *reader) Close() error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	r.closed.Store(true)
	r.c.cond.Broadcast()

	return nil
}

func (r *reader) finished() bool {
	return r.closed.Load() || (r.c.isDone() && r.offset >= len(r.c.buffer))
}
