package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/scribeworks/orchestrator/internal/api/dto"
	"github.com/scribeworks/orchestrator/internal/orchestrator"
	"github.com/scribeworks/orchestrator/internal/transcript"
)

// SubmitJob handles POST /api/v1/jobs
// Admits a new transcription job against the concurrency cap
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	handle, err := h.orchestrator.Submit(req.Input, orchestrator.Options{
		Mode:              transcript.Mode(req.Mode),
		OutputDir:         req.OutputDir,
		DryRun:            req.DryRun,
		AccelerationClass: req.AccelerationClass,
	})
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	status := orchestrator.StatusRunning
	if result, ok := handle.Result(); ok {
		status = result.Status
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", handle.ID()),
		slog.String("input", req.Input),
	)

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  handle.ID(),
		Status: status.String(),
	})
}

// writeSubmitError maps admission failures onto HTTP status codes. Capacity
// rejections are a distinct, retryable condition and carry the cap in the
// body.
func (h *JobHandler) writeSubmitError(c *gin.Context, err error) {
	var capErr *orchestrator.CapacityError

	switch {
	case errors.As(err, &capErr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":  "Concurrency limit reached",
			"active": capErr.Active,
			"limit":  capErr.Limit,
		})
	case errors.Is(err, orchestrator.ErrInvalidInput),
		errors.Is(err, orchestrator.ErrInvalidOptions):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, orchestrator.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Orchestrator is shutting down",
		})
	default:
		h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	view, err := h.orchestrator.Lookup(jobID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}

		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListJobs handles GET /api/v1/jobs
// Lists currently running jobs, oldest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs := h.orchestrator.ListActiveJobs()

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a running job; cancellation of unknown or terminal jobs is a no-op
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	cancelled := h.orchestrator.Cancel(jobID)
	if cancelled {
		h.logger.Info("Job cancelled", slog.String("job_id", jobID))
	}

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		JobID:     jobID,
		Cancelled: cancelled,
	})
}

// streamBufferSize is the buffer size for relaying job output. 4KB aligns
// with typical pipe buffer sizes.
const streamBufferSize = 4096

// StreamOutput handles GET /api/v1/jobs/:job_id/output
// Relays the worker's captured stdout: live while the job runs, the buffered
// capture for terminal jobs
func (h *JobHandler) StreamOutput(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	reader, err := h.orchestrator.StreamOutput(jobID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, orchestrator.ErrNoOutput):
			c.Status(http.StatusNoContent)
		default:
			h.logger.Error("Failed to stream output", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to stream output",
			})
		}
		return
	}
	defer reader.Close()

	// A disconnecting client must unblock the pending read.
	go func() {
		<-c.Request.Context().Done()
		reader.Close()
	}()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)

	buf := make([]byte, streamBufferSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				h.logger.Warn("Stream write failed", slog.String("job_id", jobID))
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			return
		}
	}
}

// GetMetrics handles GET /api/v1/metrics
// Returns a snapshot of the aggregated job metrics
func (h *JobHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Metrics())
}

// ResetMetrics handles POST /api/v1/metrics/reset
// Zeroes the aggregated counters, preserving the live active count
func (h *JobHandler) ResetMetrics(c *gin.Context) {
	h.orchestrator.ResetMetrics()
	h.logger.Info("Metrics reset")

	c.JSON(http.StatusOK, h.orchestrator.Metrics())
}

// Health handles GET /health
// Reports orchestrator and worker availability without spawning a job
func (h *JobHandler) Health(c *gin.Context) {
	health := h.orchestrator.HealthCheck()

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, health)
}
