package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/scribeworks/orchestrator/internal/supervisor/output"
)

// drainGrace bounds how long Wait blocks for output pipes to drain after the
// process exits. An orphaned grandchild inheriting the pipe write end must
// not stall exit handling; partial output is used instead.
const drainGrace = time.Second

// Spec describes a process to start.
type Spec struct {
	Command         string
	Args            []string
	MaxCaptureBytes int
}

// ExitState is the final state of an exited process with its captured output.
type ExitState struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
}

// Proc is a handle to a live process.
type Proc interface {
	// Wait blocks until the process exits and its output has been drained,
	// then returns the exit state. Wait must be called exactly once.
	Wait() ExitState

	// Output returns a reader streaming the process' captured stdout from
	// the beginning, ending once the process exits and the capture drains.
	// Each call returns an independent reader.
	Output() io.ReadCloser

	// Terminate requests graceful termination.
	Terminate() error

	// Kill forcefully terminates the process.
	Kill() error
}

// Runner starts processes. The production implementation uses os/exec; tests
// substitute a fake to exercise the orchestrator without real processes.
type Runner interface {
	Start(spec Spec) (Proc, error)
}

// ExecRunner starts real OS processes with stdout and stderr captured
// incrementally through bounded buffers.
type ExecRunner struct{}

func (ExecRunner) Start(spec Spec) (Proc, error) {
	cmd := exec.Command(spec.Command, spec.Args...)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	// The child holds its own copies of the write ends; closing ours lets the
	// captures see EOF when the process exits.
	stdoutW.Close()
	stderrW.Close()

	return &execProc{
		cmd:    cmd,
		stdout: output.NewCapture(stdoutR, spec.MaxCaptureBytes),
		stderr: output.NewCapture(stderrR, spec.MaxCaptureBytes),
	}, nil
}

type execProc struct {
	cmd    *exec.Cmd
	stdout *output.Capture
	stderr *output.Capture
}

func (p *execProc) Wait() ExitState {
	// Wait's error for a nonzero exit or signal death is reflected in the
	// exit code; spawn-level errors were already surfaced by Start.
	_ = p.cmd.Wait()

	awaitDrain(p.stdout)
	awaitDrain(p.stderr)

	return ExitState{
		ExitCode:        p.cmd.ProcessState.ExitCode(),
		Stdout:          p.stdout.Bytes(),
		Stderr:          p.stderr.Bytes(),
		StdoutTruncated: p.stdout.Truncated(),
		StderrTruncated: p.stderr.Truncated(),
	}
}

func (p *execProc) Output() io.ReadCloser {
	return p.stdout.Subscribe()
}

func awaitDrain(c *output.Capture) {
	select {
	case <-c.Done():
	case <-time.After(drainGrace):
	}
}

func (p *execProc) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProc) Kill() error {
	return p.cmd.Process.Kill()
}
