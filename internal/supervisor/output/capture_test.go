package output_test

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/scribeworks/orchestrator/internal/supervisor/output"
)

func TestCaptureBasicScenarios(t *testing.T) {
	t.Parallel()

	scenarios := map[string]struct {
		payload []byte
		subs    int
	}{
		"Single subscriber": {
			payload: []byte("Hello, world!"),
			subs:    1,
		},
		"Multiple subscribers": {
			payload: []byte("Hello, world!"),
			subs:    5,
		},
		"Empty data": {
			payload: []byte(""),
			subs:    1,
		},
		"Large data": {
			// Larger than the initial buffer size of 4KB.
			payload: bytes.Repeat([]byte("x"), 256*1024),
			subs:    1,
		},
	}

	for scenario, config := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			c := output.NewCapture(
				io.NopCloser(bytes.NewReader(config.payload)),
				1<<20,
			)

			errCh := make(chan error, config.subs)

			var wg sync.WaitGroup

			for range config.subs {
				wg.Go(func() {
					sub := c.Subscribe()
					defer sub.Close()

					got, err := io.ReadAll(sub)
					if err != nil {
						errCh <- fmt.Errorf("expected read all not to return error: got '%v'", err)
					}

					if string(got) != string(config.payload) {
						errCh <- fmt.Errorf(
							"expected captured data to match: got %d bytes, want %d bytes",
							len(got),
							len(config.payload),
						)
					}
				})
			}

			wg.Wait()

			close(errCh)

			for err := range errCh {
				t.Error(err)
			}

			<-c.Done()

			if c.Truncated() {
				t.Error("expected capture not to be truncated")
			}

			if string(c.Bytes()) != string(config.payload) {
				t.Errorf(
					"expected Bytes to match payload: got %d bytes, want %d bytes",
					len(c.Bytes()),
					len(config.payload),
				)
			}
		})
	}
}

func TestCaptureTruncation(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("y"), 10_000)

	c := output.NewCapture(io.NopCloser(bytes.NewReader(payload)), 1024)

	<-c.Done()

	if !c.Truncated() {
		t.Error("expected capture to be truncated")
	}

	got := c.Bytes()
	if len(got) != 1024 {
		t.Errorf("expected captured size to equal cap: got '%d', want '1024'", len(got))
	}

	if string(got) != string(payload[:1024]) {
		t.Error("expected captured prefix to match payload prefix")
	}
}

func TestCaptureIncrementalWrites(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()

	c := output.NewCapture(pr, 1<<20)

	sub := c.Subscribe()
	defer sub.Close()

	if _, err := pw.Write([]byte("partial ")); err != nil {
		t.Fatalf("expected write not to return error: got '%v'", err)
	}

	buf := make([]byte, 8)
	if _, err := io.ReadFull(sub, buf); err != nil {
		t.Fatalf("expected read not to return error: got '%v'", err)
	}

	if string(buf) != "partial " {
		t.Errorf("expected partial read: got '%s', want 'partial '", buf)
	}

	// Partial output must be observable before the source closes, i.e. a
	// mid-run kill still leaves the captured prefix available.
	if string(c.Bytes()) != "partial " {
		t.Errorf("expected Bytes mid-stream: got '%s', want 'partial '", c.Bytes())
	}

	if _, err := pw.Write([]byte("output")); err != nil {
		t.Fatalf("expected write not to return error: got '%v'", err)
	}

	pw.Close()

	rest, err := io.ReadAll(sub)
	if err != nil {
		t.Fatalf("expected read all not to return error: got '%v'", err)
	}

	if string(rest) != "output" {
		t.Errorf("expected remaining data: got '%s', want 'output'", rest)
	}
}

func TestCaptureClosedReaderStopsBlocking(t *testing.T) {
	t.Parallel()

	pr, _ := io.Pipe()

	c := output.NewCapture(pr, 1<<20)

	sub := c.Subscribe()

	readErr := make(chan error, 1)
	go func() {
		_, err := sub.Read(make([]byte, 16))
		readErr <- err
	}()

	sub.Close()

	if err := <-readErr; err != io.EOF {
		t.Errorf("expected EOF after close: got '%v'", err)
	}
}
