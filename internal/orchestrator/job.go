package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/scribeworks/orchestrator/internal/supervisor"
	"github.com/scribeworks/orchestrator/internal/transcript"
)

// Options is the closed set of recognised submission options, validated at
// submission time.
type Options struct {
	// Mode selects transcript-only or transcript-plus-summary output.
	// Defaults to transcript.
	Mode transcript.Mode `json:"mode"`

	// OutputDir overrides the configured default directory for the worker's
	// transcript artifact.
	OutputDir string `json:"output_dir,omitempty"`

	// DryRun performs admission and validation only and resolves with a
	// synthetic successful result without spawning any process.
	DryRun bool `json:"dry_run,omitempty"`

	// AccelerationClass is the accelerator hint passed to the worker.
	AccelerationClass string `json:"acceleration_class,omitempty"`
}

// accelerationClasses are the accelerator hints the worker recognises.
var accelerationClasses = map[string]struct{}{
	"T4":   {},
	"A10G": {},
	"A100": {},
	"CPU":  {},
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = transcript.ModeTranscript
	}

	return o
}

func (o Options) validate() error {
	if !o.Mode.Valid() {
		return fmt.Errorf("%w: unrecognised mode %q", ErrInvalidOptions, o.Mode)
	}

	if o.AccelerationClass != "" {
		if _, ok := accelerationClasses[o.AccelerationClass]; !ok {
			return fmt.Errorf(
				"%w: unrecognised acceleration class %q",
				ErrInvalidOptions,
				o.AccelerationClass,
			)
		}
	}

	return nil
}

// JobResult is the tagged terminal outcome of a job. Failures during
// execution arrive through it, not through a separate error path, so callers
// always await one unified completion signal per job.
type JobResult struct {
	JobID            string             `json:"job_id"`
	Status           Status             `json:"status"`
	Code             FailureCode        `json:"failure_code,omitempty"`
	Transcript       *transcript.Result `json:"transcript,omitempty"`
	ErrorDetail      string             `json:"error_detail,omitempty"`
	ErrorTruncated   bool               `json:"error_truncated,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

// JobSummary is the externally visible view of a job. Process handles are
// never included.
type JobSummary struct {
	ID                string          `json:"id"`
	Input             string          `json:"input"`
	Mode              transcript.Mode `json:"mode"`
	AccelerationClass string          `json:"acceleration_class,omitempty"`
	DryRun            bool            `json:"dry_run,omitempty"`
	Status            Status          `json:"status"`
	SubmittedAt       time.Time       `json:"submitted_at"`
}

// JobView is a JobSummary plus the terminal result once one exists.
type JobView struct {
	JobSummary
	Result     *JobResult `json:"result,omitempty"`
	TerminalAt *time.Time `json:"terminal_at,omitempty"`
}

// job is the registry record for one submission.
type job struct {
	id           string
	input        string
	opts         Options
	artifactPath string
	submittedAt  time.Time

	status AtomicStatus

	// proc, result, and terminalAt are guarded by the orchestrator mutex. At
	// most one live process handle exists per job.
	proc       supervisor.Proc
	result     JobResult
	terminalAt time.Time

	// done is closed exactly once, by whichever event wins the terminal
	// compare-and-swap.
	done chan struct{}
}

func (j *job) summary() JobSummary {
	return JobSummary{
		ID:                j.id,
		Input:             j.input,
		Mode:              j.opts.Mode,
		AccelerationClass: j.opts.AccelerationClass,
		DryRun:            j.opts.DryRun,
		Status:            j.status.Load(),
		SubmittedAt:       j.submittedAt,
	}
}

// artifactFileName builds the worker's output artifact name from the input
// media name.
func artifactFileName(input string) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		name = "transcript"
	}

	return name + ".txt"
}

// Handle is the caller's future for a submitted job. It resolves when the job
// reaches a terminal state.
type Handle struct {
	j *job
}

// ID returns the job's unique id.
func (h *Handle) ID() string {
	return h.j.id
}

// Done returns a channel that is closed when the job reaches a terminal
// state.
func (h *Handle) Done() <-chan struct{} {
	return h.j.done
}

// Result returns the terminal result. ok is false until Done is closed.
func (h *Handle) Result() (JobResult, bool) {
	select {
	case <-h.j.done:
		return h.j.result, true
	default:
		return JobResult{}, false
	}
}

// Wait blocks until the job reaches a terminal state or the context is done.
func (h *Handle) Wait(ctx context.Context) (JobResult, error) {
	select {
	case <-h.j.done:
		return h.j.result, nil
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}
