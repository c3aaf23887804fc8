package orchestrator

import (
	"encoding/json"
	"sync/atomic"
)

// Status is the lifecycle state of a job.
type Status int

const (
	// StatusUnknown indicates the status of the job is unknown. It's used as
	// the zero value for functions that return a (possibly absent) Status.
	StatusUnknown Status = iota

	// StatusPending indicates the job has been admitted and recorded but its
	// worker process has not started. Pending is instantaneous; submission
	// never queues.
	StatusPending

	// StatusRunning indicates the worker process has been handed to the
	// supervisor. The job can be cancelled.
	StatusRunning

	// StatusCompleted indicates the worker exited zero and a result was
	// extracted. Terminal.
	StatusCompleted

	// StatusFailed indicates the worker could not be spawned, exited nonzero,
	// or exceeded the job timeout. Terminal.
	StatusFailed

	// StatusCancelled indicates the job was cancelled while running.
	// Terminal.
	StatusCancelled
)

// NOTE: This slice needs to be kept in sync with any changes to the Status
// values.
var statusNames = []string{
	"unknown",
	"pending",
	"running",
	"completed",
	"failed",
	"cancelled",
}

// String implements the Stringer interface for Status.
func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return statusNames[0]
	}

	return statusNames[s]
}

// Terminal reports whether the status is absorbing: no terminal job ever
// re-enters running.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// MarshalJSON renders the status by name in API responses.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// AtomicStatus is a wrapper around an atomic.Int32 to provide atomic
// operations on a Status. CompareAndSwap is what guarantees exactly one
// terminal transition per job: exit, timeout, and cancel all race through it
// and only one wins.
type AtomicStatus struct {
	v atomic.Int32
}

// Load atomically loads the Status value.
func (a *AtomicStatus) Load() Status {
	return Status(a.v.Load())
}

// Store atomically stores the Status value.
func (a *AtomicStatus) Store(s Status) {
	a.v.Store(int32(s))
}

// CompareAndSwap performs an atomic compare-and-swap operation with an old
// and new Status.
func (a *AtomicStatus) CompareAndSwap(o, n Status) bool {
	return a.v.CompareAndSwap(int32(o), int32(n))
}
