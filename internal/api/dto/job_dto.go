package dto

// SubmitJobRequest is the body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	Input             string `json:"input" binding:"required"`
	Mode              string `json:"mode"`
	OutputDir         string `json:"output_dir"`
	DryRun            bool   `json:"dry_run"`
	AccelerationClass string `json:"acceleration_class"`
}

// SubmitJobResponse acknowledges an admitted job.
type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CancelJobResponse reports the outcome of a cancellation request.
type CancelJobResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}
