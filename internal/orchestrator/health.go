package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
)

// HealthCheckItem is one verification performed by HealthCheck.
type HealthCheckItem struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// HealthStatus reports orchestrator availability. Healthy means the
// orchestrator is running and the configured worker is verified present;
// no real job is ever spawned to find out.
type HealthStatus struct {
	Healthy           bool              `json:"healthy"`
	ActiveJobs        int64             `json:"active_jobs"`
	MaxConcurrentJobs int               `json:"max_concurrent_jobs"`
	Checks            []HealthCheckItem `json:"checks"`
	Metrics           Snapshot          `json:"metrics"`
}

// HealthCheck verifies worker availability and reports orchestrator status.
func (o *Orchestrator) HealthCheck() HealthStatus {
	checks := []HealthCheckItem{
		o.checkRunning(),
		checkCommand(o.cfg.WorkerCommand),
		checkScript(o.cfg.WorkerScript),
	}

	healthy := true
	for _, check := range checks {
		if !check.OK {
			healthy = false
			break
		}
	}

	o.mu.Lock()
	snapshot := o.metrics.snapshot()
	o.mu.Unlock()

	return HealthStatus{
		Healthy:           healthy,
		ActiveJobs:        snapshot.ActiveJobs,
		MaxConcurrentJobs: o.cfg.MaxConcurrentJobs,
		Checks:            checks,
		Metrics:           snapshot,
	}
}

func (o *Orchestrator) checkRunning() HealthCheckItem {
	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()

	if stopped {
		return HealthCheckItem{
			Name:   "orchestrator",
			Detail: "orchestrator is stopped",
		}
	}

	return HealthCheckItem{Name: "orchestrator", OK: true, Detail: "running"}
}

// checkCommand verifies the worker command resolves to an executable.
func checkCommand(command string) HealthCheckItem {
	path, err := exec.LookPath(command)
	if err != nil {
		return HealthCheckItem{
			Name:   "worker_command",
			Detail: fmt.Sprintf("%s not found in PATH", command),
		}
	}

	return HealthCheckItem{
		Name:   "worker_command",
		OK:     true,
		Detail: fmt.Sprintf("found at %s", path),
	}
}

// checkScript verifies the worker script exists and is a regular file.
func checkScript(script string) HealthCheckItem {
	info, err := os.Stat(script)
	if err != nil {
		return HealthCheckItem{
			Name:   "worker_script",
			Detail: fmt.Sprintf("cannot access %s", script),
		}
	}

	if info.IsDir() {
		return HealthCheckItem{
			Name:   "worker_script",
			Detail: fmt.Sprintf("%s is a directory, not a script", script),
		}
	}

	return HealthCheckItem{Name: "worker_script", OK: true, Detail: script}
}
