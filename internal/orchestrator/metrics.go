package orchestrator

import "time"

// Snapshot is an immutable copy of the orchestrator metrics, never a live
// reference.
type Snapshot struct {
	TotalJobs               int64 `json:"total_jobs"`
	SuccessfulJobs          int64 `json:"successful_jobs"`
	FailedJobs              int64 `json:"failed_jobs"`
	CancelledJobs           int64 `json:"cancelled_jobs"`
	ActiveJobs              int64 `json:"active_jobs"`
	TotalProcessingTimeMs   int64 `json:"total_processing_time_ms"`
	AverageProcessingTimeMs int64 `json:"average_processing_time_ms"`
}

// metrics aggregates job accounting. Not safe for concurrent use on its own:
// the orchestrator mutex guards it together with the registry, so the
// capacity check and counter updates land in one critical section.
type metrics struct {
	total      int64
	successful int64
	failed     int64
	cancelled  int64
	active     int64

	// processingTime accrues only for completed and failed runs with a real
	// execution; spawn failures, cancellations, and dry runs contribute
	// nothing. measuredRuns is the matching denominator for the average.
	processingTime time.Duration
	measuredRuns   int64
}

func (m *metrics) snapshot() Snapshot {
	s := Snapshot{
		TotalJobs:             m.total,
		SuccessfulJobs:        m.successful,
		FailedJobs:            m.failed,
		CancelledJobs:         m.cancelled,
		ActiveJobs:            m.active,
		TotalProcessingTimeMs: m.processingTime.Milliseconds(),
	}

	if m.measuredRuns > 0 {
		s.AverageProcessingTimeMs = s.TotalProcessingTimeMs / m.measuredRuns
	}

	return s
}

// reset zeroes the aggregates. The active count is preserved: jobs currently
// running still need their decrement to balance.
func (m *metrics) reset() {
	*m = metrics{active: m.active}
}
