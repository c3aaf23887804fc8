package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when looking up an id with no record.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidInput is returned when the input descriptor does not refer to
	// a readable file. Checked before anything is spawned.
	ErrInvalidInput = errors.New("invalid input descriptor")

	// ErrInvalidOptions is returned when submission options fail validation.
	ErrInvalidOptions = errors.New("invalid job options")

	// ErrStopped is returned from Submit after Shutdown has begun.
	ErrStopped = errors.New("orchestrator is stopped")

	// ErrNoOutput is returned when a job has no output stream: a dry run, or
	// a worker that never spawned.
	ErrNoOutput = errors.New("no output stream for job")
)

// CapacityError is returned when a submission arrives while the concurrency
// cap is fully used. Submissions are rejected rather than queued; backoff and
// retry are the caller's responsibility.
type CapacityError struct {
	Active int
	Limit  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d/%d jobs running", e.Active, e.Limit)
}

// FailureCode distinguishes why a job failed, so callers can e.g. resubmit a
// timed-out job with a longer timeout or smaller input.
type FailureCode string

const (
	// FailureNone marks a job that did not fail.
	FailureNone FailureCode = ""

	// FailureSpawn marks a worker that could not be launched at all.
	FailureSpawn FailureCode = "spawn_error"

	// FailureExit marks a worker that ran and exited nonzero.
	FailureExit FailureCode = "worker_error"

	// FailureTimeout marks a worker terminated for exceeding the job timeout.
	FailureTimeout FailureCode = "timeout"
)
