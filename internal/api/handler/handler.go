package handler

import (
	"log/slog"

	"github.com/scribeworks/orchestrator/internal/orchestrator"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator *orchestrator.Orchestrator
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
	}
}
