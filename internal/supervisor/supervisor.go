// Package supervisor spawns and supervises one worker process per job:
// building the invocation, capturing output incrementally, enforcing the job
// timeout, and escalating termination from SIGTERM to SIGKILL.
package supervisor

import (
	"time"

	"github.com/scribeworks/orchestrator/internal/transcript"
)

// Config holds the parameters for supervising worker processes. It is
// immutable after construction.
type Config struct {
	// WorkerCommand is the interpreter or executable to invoke, e.g. python3.
	WorkerCommand string

	// WorkerScript is the worker script passed as the first argument.
	WorkerScript string

	// JobTimeout is how long a worker may run before graceful termination is
	// requested.
	JobTimeout time.Duration

	// KillGrace is how long after graceful termination to wait before
	// forcefully killing the process.
	KillGrace time.Duration

	// MaxCaptureBytes caps the stdout and stderr capture buffers.
	MaxCaptureBytes int
}

// Invocation describes one worker run.
type Invocation struct {
	// Input is the media file descriptor passed to the worker.
	Input string

	// ArtifactPath, when non-empty, tells the worker where to write the
	// transcript artifact.
	ArtifactPath string

	// Mode selects the worker behaviour.
	Mode transcript.Mode

	// AccelerationClass, when non-empty, is passed via --accelerator.
	AccelerationClass string
}

// Outcome is the terminal result of supervising one worker process. It
// arrives through the same path regardless of whether the process exited
// naturally, timed out, or was killed.
type Outcome struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool

	// TimedOut is set when the job timeout fired before the process exited.
	TimedOut bool

	// Duration is the wall time from supervision start to process exit.
	Duration time.Duration
}

// Supervisor runs worker processes through a Runner. The Runner indirection
// lets tests drive the orchestrator state machine with fake processes.
type Supervisor struct {
	cfg    Config
	runner Runner
}

// New creates a Supervisor that starts processes with the given runner.
func New(cfg Config, runner Runner) *Supervisor {
	return &Supervisor{cfg: cfg, runner: runner}
}

// BuildArgs constructs the worker argv for an invocation:
//
//	<script> <input> [artifactPath] [mode] --accelerator <class>
func (s *Supervisor) BuildArgs(inv Invocation) []string {
	args := []string{s.cfg.WorkerScript, inv.Input}

	if inv.ArtifactPath != "" {
		args = append(args, inv.ArtifactPath)
	}

	if inv.Mode == transcript.ModeSummary {
		args = append(args, string(inv.Mode))
	}

	if inv.AccelerationClass != "" {
		args = append(args, "--accelerator", inv.AccelerationClass)
	}

	return args
}

// Launch starts the worker process for an invocation. A returned error means
// the process never started (executable missing or unlaunchable).
func (s *Supervisor) Launch(inv Invocation) (Proc, error) {
	return s.runner.Start(Spec{
		Command:         s.cfg.WorkerCommand,
		Args:            s.BuildArgs(inv),
		MaxCaptureBytes: s.cfg.MaxCaptureBytes,
	})
}

// Supervise blocks until the process exits, enforcing the job timeout. On
// expiry it sends graceful termination so the normal exit path still runs,
// and forcefully kills the process if it lingers past KillGrace.
//
// The exit path stops the timeout timer as its first action, so a timeout
// firing and a natural exit at nearly the same instant resolve to exactly one
// of the two: the timer's own Stop result decides the winner.
func (s *Supervisor) Supervise(p Proc) Outcome {
	start := time.Now()

	killTimer := time.AfterFunc(s.cfg.JobTimeout+s.cfg.KillGrace, func() {
		_ = p.Kill()
	})

	timeoutTimer := time.AfterFunc(s.cfg.JobTimeout, func() {
		_ = p.Terminate()
	})

	state := p.Wait()

	timedOut := !timeoutTimer.Stop()
	killTimer.Stop()

	return Outcome{
		ExitCode:        state.ExitCode,
		Stdout:          state.Stdout,
		Stderr:          state.Stderr,
		StdoutTruncated: state.StdoutTruncated,
		StderrTruncated: state.StderrTruncated,
		TimedOut:        timedOut,
		Duration:        time.Since(start),
	}
}

// Stop requests graceful termination of a process and schedules a forceful
// kill after KillGrace. It returns immediately; the process' exit is observed
// by whoever is supervising it. Killing an already-exited process is a no-op.
func (s *Supervisor) Stop(p Proc) {
	_ = p.Terminate()

	time.AfterFunc(s.cfg.KillGrace, func() {
		_ = p.Kill()
	})
}
