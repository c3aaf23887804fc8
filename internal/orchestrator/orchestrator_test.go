package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/scribeworks/orchestrator/internal/orchestrator"
	"github.com/scribeworks/orchestrator/internal/supervisor"
)

// fakeProc is a controllable stand-in for a worker process.
type fakeProc struct {
	exitOnce   sync.Once
	exited     chan struct{}
	state      supervisor.ExitState
	ignoreTerm bool

	terminated atomic.Bool
	killed     atomic.Bool
}

func newFakeProc() *fakeProc {
	return &fakeProc{exited: make(chan struct{})}
}

func (p *fakeProc) exitWith(code int, stdout, stderr string) {
	p.exitOnce.Do(func() {
		p.state = supervisor.ExitState{
			ExitCode: code,
			Stdout:   []byte(stdout),
			Stderr:   []byte(stderr),
		}
		close(p.exited)
	})
}

func (p *fakeProc) Wait() supervisor.ExitState {
	<-p.exited
	return p.state
}

func (p *fakeProc) Output() io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		<-p.exited
		pw.Write(p.state.Stdout)
		pw.Close()
	}()

	return pr
}

func (p *fakeProc) Terminate() error {
	p.terminated.Store(true)

	if !p.ignoreTerm {
		p.exitWith(-1, "", "terminated")
	}

	return nil
}

func (p *fakeProc) Kill() error {
	p.killed.Store(true)
	p.exitWith(-1, "", "killed")

	return nil
}

// fakeRunner hands out fakeProcs instead of spawning real processes.
type fakeRunner struct {
	mu       sync.Mutex
	starts   int
	startErr error
	next     func() *fakeProc
	procs    []*fakeProc
}

func (r *fakeRunner) Start(spec supervisor.Spec) (supervisor.Proc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.starts++

	if r.startErr != nil {
		return nil, r.startErr
	}

	proc := newFakeProc()
	if r.next != nil {
		proc = r.next()
	}

	r.procs = append(r.procs, proc)

	return proc, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.starts
}

// proc waits for the i-th process to be started; launches happen on the job
// goroutine, not in Submit.
func (r *fakeRunner) proc(i int) *fakeProc {
	for {
		r.mu.Lock()
		if i < len(r.procs) {
			p := r.procs[i]
			r.mu.Unlock()

			return p
		}
		r.mu.Unlock()

		time.Sleep(time.Millisecond)
	}
}

func testConfig(t *testing.T) orchestrator.Config {
	t.Helper()

	script := filepath.Join(t.TempDir(), "transcribe.py")
	if err := os.WriteFile(script, []byte("# worker"), 0o644); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	return orchestrator.Config{
		MaxConcurrentJobs: 2,
		WorkerCommand:     "/bin/sh",
		WorkerScript:      script,
		JobTimeout:        time.Minute,
		RetentionWindow:   time.Minute,
		SweepInterval:     time.Hour,
		KillGrace:         100 * time.Millisecond,
		ShutdownGrace:     time.Second,
		MaxCaptureBytes:   1 << 20,
	}
}

func newTestOrchestrator(
	t *testing.T,
	cfg orchestrator.Config,
	runner supervisor.Runner,
) *orchestrator.Orchestrator {
	t.Helper()

	o, err := orchestrator.New(cfg, runner, nil)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})

	return o
}

func writeInput(t *testing.T) string {
	t.Helper()

	input := filepath.Join(t.TempDir(), "talk.m4a")
	if err := os.WriteFile(input, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	return input
}

func waitForResult(t *testing.T, h *orchestrator.Handle) orchestrator.JobResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	return result
}

func TestSubmitCompletes(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	runner.proc(0).exitWith(0, "TRANSCRIPT_BEGIN\nhello transcript\nTRANSCRIPT_END\n", "")

	result := waitForResult(t, h)

	if result.Status != orchestrator.StatusCompleted {
		t.Errorf("expected status: got '%s', want 'completed'", result.Status)
	}

	if result.Code != orchestrator.FailureNone {
		t.Errorf("expected no failure code: got '%s'", result.Code)
	}

	if result.Transcript == nil || result.Transcript.Text != "hello transcript" {
		t.Errorf("expected transcript text: got '%+v'", result.Transcript)
	}

	metrics := o.Metrics()
	if metrics.TotalJobs != 1 || metrics.SuccessfulJobs != 1 || metrics.ActiveJobs != 0 {
		t.Errorf("expected metrics 1/1/0: got '%+v'", metrics)
	}
}

func TestSubmitRejectsWhenAtCapacity(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	input := writeInput(t)

	for range 2 {
		if _, err := o.Submit(input, orchestrator.Options{}); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
	}

	_, err := o.Submit(input, orchestrator.Options{})

	var capErr *orchestrator.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError: got '%v'", err)
	}

	if capErr.Active != 2 || capErr.Limit != 2 {
		t.Errorf("expected 2/2 capacity: got '%d/%d'", capErr.Active, capErr.Limit)
	}

	// The rejected submission must not have been recorded as a job.
	if metrics := o.Metrics(); metrics.TotalJobs != 2 {
		t.Errorf("expected total jobs: got '%d', want '2'", metrics.TotalJobs)
	}
}

func TestConcurrentSubmitsNeverExceedCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrentJobs = 1

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, cfg, runner)

	input := writeInput(t)

	const submitters = 8

	var (
		wg        sync.WaitGroup
		admitted  atomic.Int32
		rejected  atomic.Int32
		unexpects atomic.Int32
	)

	for range submitters {
		wg.Go(func() {
			_, err := o.Submit(input, orchestrator.Options{})

			var capErr *orchestrator.CapacityError
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.As(err, &capErr):
				rejected.Add(1)
			default:
				unexpects.Add(1)
			}
		})
	}

	wg.Wait()

	if admitted.Load() != 1 {
		t.Errorf("expected exactly one admission: got '%d'", admitted.Load())
	}

	if rejected.Load() != submitters-1 {
		t.Errorf("expected rejections: got '%d', want '%d'", rejected.Load(), submitters-1)
	}

	if unexpects.Load() != 0 {
		t.Errorf("expected no unexpected errors: got '%d'", unexpects.Load())
	}

	if metrics := o.Metrics(); metrics.ActiveJobs != 1 {
		t.Errorf("expected active jobs: got '%d', want '1'", metrics.ActiveJobs)
	}
}

func TestSubmitInvalidInput(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	scenarios := map[string]string{
		"empty descriptor": "",
		"missing file":     filepath.Join(t.TempDir(), "nope.m4a"),
		"directory":        t.TempDir(),
	}

	for scenario, input := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			if _, err := o.Submit(input, orchestrator.Options{}); !errors.Is(err, orchestrator.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput: got '%v'", err)
			}
		})
	}

	if metrics := o.Metrics(); metrics.TotalJobs != 0 {
		t.Errorf("expected no jobs recorded: got '%d'", metrics.TotalJobs)
	}

	if runner.startCount() != 0 {
		t.Errorf("expected no processes spawned: got '%d'", runner.startCount())
	}
}

func TestSubmitInvalidOptions(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), &fakeRunner{})

	input := writeInput(t)

	if _, err := o.Submit(input, orchestrator.Options{Mode: "subtitles"}); !errors.Is(err, orchestrator.ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for mode: got '%v'", err)
	}

	if _, err := o.Submit(input, orchestrator.Options{AccelerationClass: "H100"}); !errors.Is(err, orchestrator.ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for acceleration class: got '%v'", err)
	}
}

func TestDryRun(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{DryRun: true})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	result, ok := h.Result()
	if !ok {
		t.Fatal("expected dry run to resolve immediately")
	}

	if result.Status != orchestrator.StatusCompleted {
		t.Errorf("expected status: got '%s', want 'completed'", result.Status)
	}

	if result.Transcript == nil || result.Transcript.Text == "" {
		t.Error("expected synthetic placeholder result")
	}

	if runner.startCount() != 0 {
		t.Errorf("expected no processes spawned: got '%d'", runner.startCount())
	}

	metrics := o.Metrics()
	if metrics.TotalJobs != 1 || metrics.SuccessfulJobs != 1 {
		t.Errorf("expected total and successful to increment: got '%+v'", metrics)
	}

	if metrics.ActiveJobs != 0 {
		t.Errorf("expected active jobs unaffected: got '%d'", metrics.ActiveJobs)
	}
}

func TestWorkerNonzeroExit(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	runner.proc(0).exitWith(2, "", "Error: File not found: talk.m4a")

	result := waitForResult(t, h)

	if result.Status != orchestrator.StatusFailed {
		t.Errorf("expected status: got '%s', want 'failed'", result.Status)
	}

	if result.Code != orchestrator.FailureExit {
		t.Errorf("expected failure code: got '%s', want '%s'", result.Code, orchestrator.FailureExit)
	}

	if want := "Error: File not found"; !strings.Contains(result.ErrorDetail, want) {
		t.Errorf("expected error detail to contain '%s': got '%s'", want, result.ErrorDetail)
	}

	metrics := o.Metrics()
	if metrics.FailedJobs != 1 || metrics.SuccessfulJobs != 0 || metrics.ActiveJobs != 0 {
		t.Errorf("expected exactly one failure: got '%+v'", metrics)
	}
}

func TestSpawnFailure(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("executable file not found")}
	o := newTestOrchestrator(t, testConfig(t), runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	result := waitForResult(t, h)

	if result.Code != orchestrator.FailureSpawn {
		t.Errorf("expected failure code: got '%s', want '%s'", result.Code, orchestrator.FailureSpawn)
	}

	metrics := o.Metrics()
	if metrics.FailedJobs != 1 || metrics.ActiveJobs != 0 {
		t.Errorf("expected one failure and no active jobs: got '%+v'", metrics)
	}

	// No real execution happened, so no processing time is derived from it.
	if metrics.TotalProcessingTimeMs != 0 || metrics.AverageProcessingTimeMs != 0 {
		t.Errorf("expected no processing time: got '%+v'", metrics)
	}
}

func TestTimeoutReportedAsDistinctFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobTimeout = 100 * time.Millisecond

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, cfg, runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	// The fake worker runs until terminated, like a hung transcription.
	result := waitForResult(t, h)

	if result.Status != orchestrator.StatusFailed {
		t.Errorf("expected status: got '%s', want 'failed'", result.Status)
	}

	if result.Code != orchestrator.FailureTimeout {
		t.Errorf("expected failure code: got '%s', want '%s'", result.Code, orchestrator.FailureTimeout)
	}

	if !runner.proc(0).terminated.Load() {
		t.Error("expected graceful termination to be requested")
	}

	metrics := o.Metrics()
	if metrics.FailedJobs != 1 || metrics.CancelledJobs != 0 || metrics.SuccessfulJobs != 0 {
		t.Errorf("expected exactly one terminal increment: got '%+v'", metrics)
	}
}

func TestCancelRunningJob(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if !o.Cancel(h.ID()) {
		t.Fatal("expected cancel of running job to return true")
	}

	// Bookkeeping flips synchronously, independent of how fast the OS
	// process exits.
	result, ok := h.Result()
	if !ok {
		t.Fatal("expected job to be terminal immediately after cancel")
	}

	if result.Status != orchestrator.StatusCancelled {
		t.Errorf("expected status: got '%s', want 'cancelled'", result.Status)
	}

	if o.Cancel(h.ID()) {
		t.Error("expected second cancel to return false")
	}

	metrics := o.Metrics()
	if metrics.CancelledJobs != 1 || metrics.ActiveJobs != 0 {
		t.Errorf("expected one cancellation: got '%+v'", metrics)
	}

	// Let the process exit flow through; it must not add a second terminal
	// increment or decrement activeJobs again.
	time.Sleep(200 * time.Millisecond)

	metrics = o.Metrics()
	if metrics.CancelledJobs != 1 || metrics.FailedJobs != 0 || metrics.ActiveJobs != 0 {
		t.Errorf("expected accounting to remain settled: got '%+v'", metrics)
	}
}

func TestCancelUnknownOrTerminalJob(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	if o.Cancel("no-such-job") {
		t.Error("expected cancel of unknown job to return false")
	}

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	runner.proc(0).exitWith(0, "TRANSCRIPT_BEGIN\ndone\nTRANSCRIPT_END", "")
	waitForResult(t, h)

	if o.Cancel(h.ID()) {
		t.Error("expected cancel of completed job to return false")
	}

	if metrics := o.Metrics(); metrics.CancelledJobs != 0 || metrics.ActiveJobs != 0 {
		t.Errorf("expected no cancellation accounting: got '%+v'", metrics)
	}
}

func TestListActiveJobs(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	input := writeInput(t)

	h1, err := o.Submit(input, orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	h2, err := o.Submit(input, orchestrator.Options{Mode: "summary"})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	runner.proc(0).exitWith(0, "TRANSCRIPT_BEGIN\nx\nTRANSCRIPT_END", "")
	waitForResult(t, h1)

	active := o.ListActiveJobs()
	if len(active) != 1 {
		t.Fatalf("expected active jobs: got '%d', want '1'", len(active))
	}

	if active[0].ID != h2.ID() {
		t.Errorf("expected active job id: got '%s', want '%s'", active[0].ID, h2.ID())
	}

	if active[0].Status != orchestrator.StatusRunning {
		t.Errorf("expected status: got '%s', want 'running'", active[0].Status)
	}
}

func TestLookup(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	if _, err := o.Lookup("no-such-job"); !errors.Is(err, orchestrator.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound: got '%v'", err)
	}

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	view, err := o.Lookup(h.ID())
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if view.Result != nil {
		t.Error("expected no result before terminal state")
	}

	runner.proc(0).exitWith(0, "TRANSCRIPT_BEGIN\nlooked up\nTRANSCRIPT_END", "")
	waitForResult(t, h)

	view, err = o.Lookup(h.ID())
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if view.Result == nil || view.Result.Transcript.Text != "looked up" {
		t.Errorf("expected terminal result in view: got '%+v'", view.Result)
	}

	if view.TerminalAt == nil {
		t.Error("expected terminal timestamp in view")
	}
}

func TestResetMetricsPreservesActiveCount(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	input := writeInput(t)

	if _, err := o.Submit(input, orchestrator.Options{DryRun: true}); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	h, err := o.Submit(input, orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	o.ResetMetrics()

	metrics := o.Metrics()
	if metrics.TotalJobs != 0 || metrics.SuccessfulJobs != 0 {
		t.Errorf("expected counters zeroed: got '%+v'", metrics)
	}

	if metrics.ActiveJobs != 1 {
		t.Errorf("expected active count preserved: got '%d', want '1'", metrics.ActiveJobs)
	}

	runner.proc(0).exitWith(0, "", "")
	waitForResult(t, h)

	if metrics := o.Metrics(); metrics.ActiveJobs != 0 {
		t.Errorf("expected active count to settle: got '%d'", metrics.ActiveJobs)
	}
}

func TestRetentionSweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionWindow = 50 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, cfg, runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{DryRun: true})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, err := o.Lookup(h.ID()); errors.Is(err, orchestrator.ErrJobNotFound) {
			break
		}

		select {
		case <-deadline:
			t.Fatal("expected terminal job to be purged after retention window")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A running job is never removed, no matter how old.
	h2, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := o.Lookup(h2.ID()); err != nil {
		t.Errorf("expected running job to be retained: got '%v'", err)
	}
}

func TestShutdownDrainsWithinBound(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	input := writeInput(t)

	for range 2 {
		if _, err := o.Submit(input, orchestrator.Options{}); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
	}

	start := time.Now()

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("expected bounded drain: took '%v'", elapsed)
	}

	if active := o.ListActiveJobs(); len(active) != 0 {
		t.Errorf("expected registry cleared: got '%d' active jobs", len(active))
	}

	if _, err := o.Submit(input, orchestrator.Options{}); !errors.Is(err, orchestrator.ErrStopped) {
		t.Errorf("expected ErrStopped after shutdown: got '%v'", err)
	}
}

func TestShutdownWaitsForConcurrentSubmits(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrentJobs = 8

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, cfg, runner)

	input := writeInput(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, _ = o.Submit(input, orchestrator.Options{})
		})
	}

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	wg.Wait()

	// Every worker admitted before the stop flag landed must have been
	// driven to exit by the drain; none may outlive Shutdown.
	for i := range runner.startCount() {
		select {
		case <-runner.proc(i).exited:
		default:
			t.Errorf("expected worker %d to be terminated before shutdown resolved", i)
		}
	}

	if metrics := o.Metrics(); metrics.ActiveJobs != 0 {
		t.Errorf("expected no active jobs after drain: got '%d'", metrics.ActiveJobs)
	}
}

func TestShutdownRetryAfterCancelledContext(t *testing.T) {
	runner := &fakeRunner{next: func() *fakeProc {
		p := newFakeProc()
		p.ignoreTerm = true
		return p
	}}

	o := newTestOrchestrator(t, testConfig(t), runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := o.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error: got '%v'", err)
	}

	// A second call with a live context resumes the drain and finishes the
	// cleanup the first call was cut off from.
	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if !runner.proc(0).killed.Load() {
		t.Error("expected straggler to be forcefully killed")
	}

	if _, err := o.Lookup(h.ID()); !errors.Is(err, orchestrator.ErrJobNotFound) {
		t.Error("expected retried shutdown to clear the registry")
	}
}

func TestShutdownEscalatesWhenWorkerIgnoresTermination(t *testing.T) {
	runner := &fakeRunner{next: func() *fakeProc {
		p := newFakeProc()
		p.ignoreTerm = true
		return p
	}}

	o := newTestOrchestrator(t, testConfig(t), runner)

	if _, err := o.Submit(writeInput(t), orchestrator.Options{}); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	start := time.Now()

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("expected forceful escalation to bound drain: took '%v'", elapsed)
	}

	if !runner.proc(0).killed.Load() {
		t.Error("expected straggler to be forcefully killed")
	}
}

func TestStreamOutput(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	if _, err := o.StreamOutput("no-such-job"); !errors.Is(err, orchestrator.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound: got '%v'", err)
	}

	dry, err := o.Submit(writeInput(t), orchestrator.Options{DryRun: true})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if _, err := o.StreamOutput(dry.ID()); !errors.Is(err, orchestrator.ErrNoOutput) {
		t.Errorf("expected ErrNoOutput for dry run: got '%v'", err)
	}

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	// The process handle attaches on the job goroutine shortly after Submit
	// returns.
	var stream io.ReadCloser
	deadline := time.Now().Add(5 * time.Second)
	for {
		stream, err = o.StreamOutput(h.ID())
		if err == nil {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("expected output stream for running job: got '%v'", err)
		}

		time.Sleep(time.Millisecond)
	}
	defer stream.Close()

	runner.proc(0).exitWith(0, "TRANSCRIPT_BEGIN\nstreamed\nTRANSCRIPT_END", "")
	waitForResult(t, h)

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if !strings.Contains(string(data), "streamed") {
		t.Errorf("expected streamed output to contain worker stdout: got '%s'", data)
	}
}

func TestErrorDetailKeepsValidUTF8(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	h, err := o.Submit(writeInput(t), orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	// 3-byte runes ensure the byte-bounded tail cut lands mid-rune.
	runner.proc(0).exitWith(2, "", strings.Repeat("日", 1200))

	result := waitForResult(t, h)

	if !result.ErrorTruncated {
		t.Error("expected oversized error detail to be marked truncated")
	}

	if !utf8.ValidString(result.ErrorDetail) {
		t.Error("expected truncated error detail to remain valid UTF-8")
	}
}

func TestAverageProcessingTimeUsesMeasuredRunsOnly(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(t), runner)

	input := writeInput(t)

	if _, err := o.Submit(input, orchestrator.Options{DryRun: true}); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	h, err := o.Submit(input, orchestrator.Options{})
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	time.Sleep(50 * time.Millisecond)
	runner.proc(0).exitWith(0, "TRANSCRIPT_BEGIN\nok\nTRANSCRIPT_END", "")
	waitForResult(t, h)

	metrics := o.Metrics()

	if metrics.TotalJobs != 2 || metrics.SuccessfulJobs != 2 {
		t.Fatalf("expected two successful jobs: got '%+v'", metrics)
	}

	if metrics.TotalProcessingTimeMs < 50 {
		t.Errorf("expected total processing time >= 50ms: got '%d'", metrics.TotalProcessingTimeMs)
	}

	// The dry run contributes no measured execution, so the average is over
	// the single real run, not halved across both jobs.
	if metrics.AverageProcessingTimeMs != metrics.TotalProcessingTimeMs {
		t.Errorf(
			"expected average over measured runs only: got avg '%d', total '%d'",
			metrics.AverageProcessingTimeMs,
			metrics.TotalProcessingTimeMs,
		)
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := testConfig(t)
	o := newTestOrchestrator(t, cfg, &fakeRunner{})

	health := o.HealthCheck()
	if !health.Healthy {
		t.Errorf("expected healthy orchestrator: got '%+v'", health.Checks)
	}

	if health.MaxConcurrentJobs != cfg.MaxConcurrentJobs {
		t.Errorf(
			"expected configured cap: got '%d', want '%d'",
			health.MaxConcurrentJobs,
			cfg.MaxConcurrentJobs,
		)
	}
}

func TestHealthCheckUnhealthyWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerCommand = "definitely-not-a-real-interpreter"

	o := newTestOrchestrator(t, cfg, &fakeRunner{})

	if health := o.HealthCheck(); health.Healthy {
		t.Error("expected missing worker command to be unhealthy")
	}

	cfg = testConfig(t)
	cfg.WorkerScript = filepath.Join(t.TempDir(), "missing.py")

	o = newTestOrchestrator(t, cfg, &fakeRunner{})

	if health := o.HealthCheck(); health.Healthy {
		t.Error("expected missing worker script to be unhealthy")
	}
}

func TestHealthCheckAfterShutdown(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), &fakeRunner{})

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if health := o.HealthCheck(); health.Healthy {
		t.Error("expected stopped orchestrator to be unhealthy")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrentJobs = 0

	if _, err := orchestrator.New(cfg, &fakeRunner{}, nil); err == nil {
		t.Error("expected zero concurrency cap to be rejected")
	}
}
