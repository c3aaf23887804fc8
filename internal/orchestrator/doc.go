// Package orchestrator supervises concurrent runs of the external
// transcription worker.
//
// A job is one request to run the worker against one input, tracked through
// pending, running, and terminal (completed/failed/cancelled) states.
// Admission is a synchronous check-and-reserve against the concurrency cap:
// submissions over the cap are rejected, never queued. Each running job gets
// a per-job timeout, cooperative cancellation, and structured result
// extraction from the worker's output. Terminal jobs are retained in memory
// until the retention sweeper purges them.
package orchestrator
