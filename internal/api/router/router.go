package router

import (
	"github.com/gin-gonic/gin"
	"github.com/scribeworks/orchestrator/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	// Health check endpoint
	r.GET("/health", jobHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new transcription job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List currently running jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// GET /api/v1/jobs/:job_id/output - Stream job output
			jobs.GET("/:job_id/output", jobHandler.StreamOutput)
		}

		metrics := v1.Group("/metrics")
		{
			// GET /api/v1/metrics - Metrics snapshot
			metrics.GET("", jobHandler.GetMetrics)

			// POST /api/v1/metrics/reset - Zero the counters
			metrics.POST("/reset", jobHandler.ResetMetrics)
		}
	}

	return r
}
