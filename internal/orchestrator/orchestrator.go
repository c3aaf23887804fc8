package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/scribeworks/orchestrator/internal/supervisor"
	"github.com/scribeworks/orchestrator/internal/transcript"
)

// maxErrorDetailBytes bounds how much stderr is stored as a failed job's
// error detail. The tail is kept since that's where the worker's traceback
// ends up.
const maxErrorDetailBytes = 2048

// dryRunText is the synthetic result reported for dry-run submissions.
const dryRunText = "dry run: admission and validation passed, no worker spawned"

// Config holds the orchestrator parameters. It is immutable after
// construction.
type Config struct {
	// MaxConcurrentJobs caps concurrently running worker processes. Must be
	// at least 1. Submissions beyond the cap are rejected, not queued.
	MaxConcurrentJobs int

	// WorkerCommand and WorkerScript form the worker invocation.
	WorkerCommand string
	WorkerScript  string

	// JobTimeout is how long a worker may run before being terminated and
	// the job reported as a timeout failure.
	JobTimeout time.Duration

	// RetentionWindow is how long terminal jobs are retained in the registry
	// before the sweeper purges them.
	RetentionWindow time.Duration

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration

	// KillGrace is how long after graceful termination to wait before
	// forcefully killing a worker.
	KillGrace time.Duration

	// ShutdownGrace bounds how long Shutdown waits for draining jobs.
	ShutdownGrace time.Duration

	// MaxCaptureBytes caps each worker's stdout and stderr capture buffers.
	MaxCaptureBytes int

	// DefaultOutputDir is where transcript artifacts go when a submission
	// doesn't specify an output directory. Empty disables the artifact path.
	DefaultOutputDir string
}

func (c *Config) validate() error {
	if c.MaxConcurrentJobs < 1 {
		return errors.New("max concurrent jobs must be at least 1")
	}

	if c.WorkerCommand == "" {
		return errors.New("worker command cannot be empty")
	}

	if c.WorkerScript == "" {
		return errors.New("worker script cannot be empty")
	}

	if c.JobTimeout <= 0 {
		return errors.New("job timeout must be greater than 0")
	}

	if c.RetentionWindow <= 0 {
		return errors.New("retention window must be greater than 0")
	}

	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be greater than 0")
	}

	if c.KillGrace <= 0 {
		return errors.New("kill grace must be greater than 0")
	}

	if c.ShutdownGrace <= 0 {
		return errors.New("shutdown grace must be greater than 0")
	}

	if c.MaxCaptureBytes <= 0 {
		return errors.New("max capture bytes must be greater than 0")
	}

	return nil
}

// Orchestrator supervises concurrent executions of the transcription worker:
// admission against the concurrency cap, per-job timeouts, cancellation,
// result extraction, metrics, and retention of terminal jobs.
//
// Construct one explicitly with New and pass it by handle; there is no shared
// global instance.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	sup    *supervisor.Supervisor

	// mu guards the registry and metrics together. Coarse, but submission
	// rate is low relative to per-job runtime.
	mu      sync.Mutex
	jobs    map[string]*job
	metrics metrics
	stopped bool

	sweepStop chan struct{}
	sweepDone chan struct{}
	drainDone chan struct{}
	wg        sync.WaitGroup
}

// New creates an Orchestrator and starts its retention sweeper. A nil runner
// gets the real process runner; tests inject fakes.
func New(cfg Config, runner supervisor.Runner, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if runner == nil {
		runner = supervisor.ExecRunner{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:    cfg,
		logger: logger,
		sup: supervisor.New(supervisor.Config{
			WorkerCommand:   cfg.WorkerCommand,
			WorkerScript:    cfg.WorkerScript,
			JobTimeout:      cfg.JobTimeout,
			KillGrace:       cfg.KillGrace,
			MaxCaptureBytes: cfg.MaxCaptureBytes,
		}, runner),
		jobs:      make(map[string]*job),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
		drainDone: make(chan struct{}),
	}

	go o.sweepLoop()

	return o, nil
}

// Submit admits a new job. It rejects synchronously with a *CapacityError
// when the concurrency cap is reached and with ErrInvalidInput when the input
// descriptor doesn't refer to a readable file; nothing is spawned in either
// case. On success the returned Handle resolves when the job terminates;
// Submit itself never blocks on worker completion.
func (o *Orchestrator) Submit(input string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: empty input descriptor", ErrInvalidInput)
	}

	if info, err := os.Stat(input); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, input)
	}

	now := time.Now()

	j := &job{
		id:          uuid.NewString(),
		input:       input,
		opts:        opts,
		submittedAt: now,
		done:        make(chan struct{}),
	}
	j.status.Store(StatusPending)

	if outputDir := cmp.Or(opts.OutputDir, o.cfg.DefaultOutputDir); outputDir != "" {
		j.artifactPath = filepath.Join(outputDir, artifactFileName(input))
	}

	// Capacity check, registry insert, and counter increments share one
	// critical section: two concurrent submits can never both take the last
	// slot.
	o.mu.Lock()

	if o.stopped {
		o.mu.Unlock()
		return nil, ErrStopped
	}

	if o.metrics.active >= int64(o.cfg.MaxConcurrentJobs) {
		active := int(o.metrics.active)
		o.mu.Unlock()
		return nil, &CapacityError{Active: active, Limit: o.cfg.MaxConcurrentJobs}
	}

	o.jobs[j.id] = j
	o.metrics.total++

	if opts.DryRun {
		j.status.Store(StatusCompleted)
		j.result = JobResult{
			JobID:  j.id,
			Status: StatusCompleted,
			Transcript: &transcript.Result{
				Text:   dryRunText,
				Source: transcript.SourcePlaceholder,
			},
		}
		j.terminalAt = now
		o.metrics.successful++
		o.mu.Unlock()

		close(j.done)

		o.logger.Info("dry run resolved", slog.String("job_id", j.id), slog.String("input", input))

		return &Handle{j: j}, nil
	}

	o.metrics.active++
	j.status.Store(StatusRunning)

	// Registered under the admission lock: a concurrent Shutdown either
	// rejects this submission via the stopped flag or observes the counter
	// before it starts waiting.
	o.wg.Add(1)

	o.mu.Unlock()

	go o.runJob(j)

	o.logger.Info("job submitted",
		slog.String("job_id", j.id),
		slog.String("input", input),
		slog.String("mode", string(opts.Mode)),
	)

	return &Handle{j: j}, nil
}

// runJob drives one job from spawn to terminal state. It is the single
// writer for the job's exit handling.
func (o *Orchestrator) runJob(j *job) {
	defer o.wg.Done()

	proc, err := o.sup.Launch(supervisor.Invocation{
		Input:             j.input,
		ArtifactPath:      j.artifactPath,
		Mode:              j.opts.Mode,
		AccelerationClass: j.opts.AccelerationClass,
	})
	if err != nil {
		o.logger.Error("worker spawn failed",
			slog.String("job_id", j.id),
			slog.Any("error", err),
		)

		// No processing time: nothing was executed.
		o.finish(j, JobResult{
			JobID:       j.id,
			Status:      StatusFailed,
			Code:        FailureSpawn,
			ErrorDetail: err.Error(),
		}, 0)

		return
	}

	o.attachProc(j, proc)

	outcome := o.sup.Supervise(proc)

	var result JobResult

	switch {
	case outcome.TimedOut:
		detail, truncated := boundDetail(outcome.Stderr, outcome.StderrTruncated)
		result = JobResult{
			Status: StatusFailed,
			Code:   FailureTimeout,
			ErrorDetail: fmt.Sprintf(
				"worker exceeded job timeout of %s; %s",
				o.cfg.JobTimeout,
				detail,
			),
			ErrorTruncated: truncated,
		}
	case outcome.ExitCode == 0:
		parsed := transcript.Parse(outcome.Stdout, j.artifactPath, j.opts.Mode)
		if parsed.Degraded {
			o.logger.Warn("transcript parsing degraded",
				slog.String("job_id", j.id),
				slog.String("source", string(parsed.Source)),
			)
		}

		result = JobResult{
			Status:     StatusCompleted,
			Transcript: &parsed,
		}
	default:
		detail, truncated := boundDetail(outcome.Stderr, outcome.StderrTruncated)
		result = JobResult{
			Status:         StatusFailed,
			Code:           FailureExit,
			ErrorDetail:    fmt.Sprintf("worker exited with code %d: %s", outcome.ExitCode, detail),
			ErrorTruncated: truncated,
		}
	}

	result.JobID = j.id
	result.ProcessingTimeMs = outcome.Duration.Milliseconds()

	o.finish(j, result, outcome.Duration)
}

// attachProc records the live process handle so cancellation can target it.
// A cancel that landed between Launch and attach found no handle to signal,
// so signal now.
func (o *Orchestrator) attachProc(j *job, proc supervisor.Proc) {
	o.mu.Lock()
	j.proc = proc
	cancelled := j.status.Load() == StatusCancelled
	o.mu.Unlock()

	if cancelled {
		o.sup.Stop(proc)
	}
}

// finish applies the terminal result for a job's exit handling. The
// compare-and-swap loses against an earlier cancel, in which case accounting
// already happened at cancel time and exactly nothing more is recorded.
func (o *Orchestrator) finish(j *job, result JobResult, duration time.Duration) {
	if !j.status.CompareAndSwap(StatusRunning, result.Status) {
		o.logger.Debug("ignoring exit event for already-terminal job",
			slog.String("job_id", j.id),
		)
		return
	}

	o.mu.Lock()

	j.result = result
	j.terminalAt = time.Now()
	o.metrics.active--

	if result.Status == StatusCompleted {
		o.metrics.successful++
	} else {
		o.metrics.failed++
	}

	if duration > 0 {
		o.metrics.processingTime += duration
		o.metrics.measuredRuns++
	}

	o.mu.Unlock()

	close(j.done)

	o.logger.Info("job finished",
		slog.String("job_id", j.id),
		slog.String("status", result.Status.String()),
		slog.String("failure_code", string(result.Code)),
		slog.Int64("processing_time_ms", result.ProcessingTimeMs),
	)
}

// Cancel cancels a currently running job. Bookkeeping flips synchronously;
// the OS process is terminated gracefully and killed after the grace period
// on its own time. Returns false for unknown or already-terminal jobs, never
// an error, and never double-decrements: cancellation is idempotent.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()

	j, exists := o.jobs[id]
	if !exists {
		o.mu.Unlock()
		return false
	}

	if !j.status.CompareAndSwap(StatusRunning, StatusCancelled) {
		o.mu.Unlock()
		return false
	}

	j.result = JobResult{JobID: id, Status: StatusCancelled}
	j.terminalAt = time.Now()
	o.metrics.cancelled++
	o.metrics.active--
	proc := j.proc

	o.mu.Unlock()

	close(j.done)

	if proc != nil {
		o.sup.Stop(proc)
	}

	o.logger.Info("job cancelled", slog.String("job_id", id))

	return true
}

// ListActiveJobs returns summaries of currently running jobs, oldest first.
func (o *Orchestrator) ListActiveJobs() []JobSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	summaries := make([]JobSummary, 0, len(o.jobs))
	for _, j := range o.jobs {
		if j.status.Load() == StatusRunning {
			summaries = append(summaries, j.summary())
		}
	}

	slices.SortFunc(summaries, func(a, b JobSummary) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})

	return summaries
}

// Lookup returns the view of the job with the given id, or ErrJobNotFound.
func (o *Orchestrator) Lookup(id string) (JobView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	j, exists := o.jobs[id]
	if !exists {
		return JobView{}, ErrJobNotFound
	}

	view := JobView{JobSummary: j.summary()}

	if view.Status.Terminal() {
		result := j.result
		terminalAt := j.terminalAt
		view.Result = &result
		view.TerminalAt = &terminalAt
	}

	return view, nil
}

// StreamOutput returns a reader over the job's captured stdout: live data as
// it arrives for a running worker, the drained buffer for a terminal one.
// Dry runs and jobs whose worker never spawned have no stream.
func (o *Orchestrator) StreamOutput(id string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	j, exists := o.jobs[id]
	if !exists {
		return nil, ErrJobNotFound
	}

	if j.proc == nil {
		return nil, ErrNoOutput
	}

	return j.proc.Output(), nil
}

// Metrics returns a snapshot copy of the aggregated metrics.
func (o *Orchestrator) Metrics() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.metrics.snapshot()
}

// ResetMetrics zeroes the aggregated metrics, preserving the live active
// count.
func (o *Orchestrator) ResetMetrics() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.metrics.reset()
}

// Shutdown drains the orchestrator: graceful termination is sent to every
// running job, stragglers are killed after the grace period, and the registry
// is cleared. It is bounded even if a worker ignores graceful termination. A
// call cut short by its context leaves the orchestrator stopped but the drain
// in flight; calling Shutdown again resumes waiting and finishes the cleanup.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()

	if o.stopped {
		o.mu.Unlock()
		return o.awaitDrain(ctx)
	}

	o.stopped = true

	running := make([]string, 0, len(o.jobs))
	for id, j := range o.jobs {
		if j.status.Load() == StatusRunning {
			running = append(running, id)
		}
	}

	o.mu.Unlock()

	close(o.sweepStop)

	o.logger.Info("draining orchestrator", slog.Int("running_jobs", len(running)))

	for _, id := range running {
		o.Cancel(id)
	}

	go func() {
		o.wg.Wait()
		close(o.drainDone)
	}()

	return o.awaitDrain(ctx)
}

// awaitDrain waits out the drain and the sweeper, then clears the registry.
// Safe to call repeatedly; a retry after a context-cancelled attempt picks up
// where the first call left off.
func (o *Orchestrator) awaitDrain(ctx context.Context) error {
	select {
	case <-o.drainDone:
	case <-time.After(o.cfg.ShutdownGrace + o.cfg.KillGrace):
		o.logger.Warn("shutdown grace elapsed with jobs still draining")
	case <-ctx.Done():
		return ctx.Err()
	}

	<-o.sweepDone

	o.mu.Lock()
	o.jobs = make(map[string]*job)
	o.mu.Unlock()

	o.logger.Info("orchestrator shut down")

	return nil
}

// sweepLoop periodically purges terminal jobs past the retention window,
// bounding memory for long-lived instances. It runs independently of
// submissions.
func (o *Orchestrator) sweepLoop() {
	defer close(o.sweepDone)

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.sweepStop:
			return
		case now := <-ticker.C:
			if purged := o.sweepOnce(now); purged > 0 {
				o.logger.Debug("purged terminal jobs", slog.Int("count", purged))
			}
		}
	}
}

// sweepOnce removes terminal jobs whose terminal timestamp is older than the
// retention window. Running jobs are never removed.
func (o *Orchestrator) sweepOnce(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	purged := 0

	for id, j := range o.jobs {
		if j.status.Load().Terminal() && now.Sub(j.terminalAt) > o.cfg.RetentionWindow {
			delete(o.jobs, id)
			purged++
		}
	}

	return purged
}

// boundDetail trims stderr to the tail that fits the error detail bound.
func boundDetail(stderr []byte, alreadyTruncated bool) (string, bool) {
	detail := strings.TrimSpace(string(stderr))

	if len(detail) <= maxErrorDetailBytes {
		return detail, alreadyTruncated
	}

	cut := detail[len(detail)-maxErrorDetailBytes:]

	// The byte cut can land inside a multi-byte rune; trim forward to the
	// next boundary so the kept tail stays valid UTF-8.
	for len(cut) > 0 && !utf8.RuneStart(cut[0]) {
		cut = cut[1:]
	}

	return cut, true
}
