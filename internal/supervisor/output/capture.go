// Package output provides incremental capture of worker process output.
// Output is buffered as it arrives so partial output survives a mid-run kill,
// and the buffer is capped so a chatty worker cannot grow memory without
// bound. Multiple clients can subscribe and each receive the captured output
// from the beginning.
package output

import (
	"io"
	"sync"
)

const (
	// initialBufferCapacity is the starting size for the capture buffer.
	initialBufferCapacity = 4096

	// readBufferSize is the temporary buffer size for reading from the source
	// pipe. 4KB aligns with typical pipe buffer sizes.
	readBufferSize = 4096
)

// Capture reads from a source io.ReadCloser as output arrives and stores it
// in an internal buffer, up to maxBytes. Anything beyond the cap is counted
// and dropped, and the capture is marked truncated.
type Capture struct {
	buffer    []byte
	maxBytes  int
	truncated bool
	dropped   int64

	done chan struct{}
	mu   sync.Mutex
	cond sync.Cond
}

// NewCapture creates a Capture that reads from source until io.EOF, keeping
// at most maxBytes of output.
func NewCapture(source io.ReadCloser, maxBytes int) *Capture {
	c := &Capture{
		buffer:   make([]byte, 0, min(initialBufferCapacity, maxBytes)),
		maxBytes: maxBytes,
		done:     make(chan struct{}),
	}

	c.cond.L = &c.mu

	go c.processOutput(source)

	return c
}

func (c *Capture) processOutput(source io.ReadCloser) {
	defer func() {
		close(c.done)
		source.Close()

		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	}()

	buffer := make([]byte, readBufferSize)

	for {
		n, err := source.Read(buffer)
		if n > 0 {
			c.mu.Lock()

			room := c.maxBytes - len(c.buffer)
			keep := min(n, room)
			if keep > 0 {
				c.buffer = append(c.buffer, buffer[:keep]...)
				c.cond.Broadcast()
			}
			if keep < n {
				c.truncated = true
				c.dropped += int64(n - keep)
			}

			c.mu.Unlock()
		}

		if err != nil {
			// Non-EOF read errors also end the capture; the pipe is gone
			// either way once the process exits.
			return
		}
	}
}

// Bytes returns a copy of the captured output so far.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.buffer...)
}

// Truncated reports whether output was dropped because the cap was reached.
func (c *Capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.truncated
}

// Subscribe returns an io.ReadCloser for streaming captured data from the
// beginning. Close cancels the subscription.
func (c *Capture) Subscribe() io.ReadCloser {
	return &reader{c: c}
}

// Done returns a channel that is closed when the source has been drained,
// i.e. the process closed its end of the pipe.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

func (c *Capture) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
