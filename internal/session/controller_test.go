package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yegors/livecaptions/internal/capture/mock"
	"github.com/yegors/livecaptions/internal/resolver"
	"github.com/yegors/livecaptions/internal/supervisor"
	"github.com/yegors/livecaptions/internal/transcription"
)

// scriptedRunner returns one outcome per attempt and records the URLs it was given
type scriptedRunner struct {
	mu       sync.Mutex
	outcomes []supervisor.Outcome
	urls     []string
	dirs     []string
}

func (r *scriptedRunner) RunAttempt(_ context.Context, attempt int, streamURL, workDir string) supervisor.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, streamURL)
	r.dirs = append(r.dirs, workDir)
	outcome := supervisor.AbnormalEnd
	if attempt-1 < len(r.outcomes) {
		outcome = r.outcomes[attempt-1]
	}
	return supervisor.Report{Attempt: attempt, Outcome: outcome, Segments: 1}
}

// countingResolver hands out numbered URLs and can fail on chosen calls
type countingResolver struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (r *countingResolver) Resolve(_ context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failOn[r.calls] {
		return "", resolver.ErrNoURL
	}
	return fmt.Sprintf("https://cdn.example.com/%s/%d.m3u8", ref, r.calls), nil
}

func (r *countingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newController(t *testing.T, res resolver.Resolver, runner AttemptRunner, budget int) *Controller {
	t.Helper()
	c := NewController(res, runner, Config{RestartBudget: budget, WorkRoot: t.TempDir()}, nil, nil)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRun_CompletesOnCleanEnd(t *testing.T) {
	res := &countingResolver{}
	runner := &scriptedRunner{outcomes: []supervisor.Outcome{supervisor.CleanEnd}}
	c := newController(t, res, runner, 5)

	sum, err := c.Run(context.Background(), "live")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Reason != Completed || sum.Attempts != 1 || sum.Restarts != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if res.count() != 1 {
		t.Errorf("resolver called %d times, want 1", res.count())
	}
}

func TestRun_RestartBudget(t *testing.T) {
	tests := []struct {
		budget       int
		wantAttempts int
	}{
		{0, 1},
		{1, 1},
		{3, 3},
		{5, 5},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("budget=%d", tc.budget), func(t *testing.T) {
			res := &countingResolver{}
			runner := &scriptedRunner{}
			c := newController(t, res, runner, tc.budget)

			sum, err := c.Run(context.Background(), "live")
			if !errors.Is(err, ErrRestartsExhausted) {
				t.Fatalf("err = %v, want ErrRestartsExhausted", err)
			}
			if sum.Reason != RestartsExhausted {
				t.Errorf("reason = %v", sum.Reason)
			}
			if sum.Attempts != tc.wantAttempts {
				t.Errorf("attempts = %d, want %d", sum.Attempts, tc.wantAttempts)
			}
			if restartsPerformed := sum.Attempts - 1; restartsPerformed > tc.budget {
				t.Errorf("performed %d restarts with budget %d", restartsPerformed, tc.budget)
			}
			if res.count() != tc.wantAttempts {
				t.Errorf("resolver called %d times, want one per attempt", res.count())
			}
		})
	}
}

func TestRun_RestartReResolvesURL(t *testing.T) {
	res := &countingResolver{}
	runner := &scriptedRunner{outcomes: []supervisor.Outcome{supervisor.AbnormalEnd, supervisor.CleanEnd}}
	c := newController(t, res, runner, 3)

	sum, err := c.Run(context.Background(), "live")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Restarts != 1 || sum.Reason != Completed {
		t.Errorf("summary = %+v", sum)
	}
	if len(runner.urls) != 2 || runner.urls[0] == runner.urls[1] {
		t.Errorf("attempt URLs = %v, want a fresh URL for the restart", runner.urls)
	}
	if runner.dirs[0] == runner.dirs[1] {
		t.Error("attempts must not share a working directory")
	}
}

func TestRun_StuckAttemptRestarts(t *testing.T) {
	res := &countingResolver{}
	runner := &scriptedRunner{outcomes: []supervisor.Outcome{supervisor.StuckInactive, supervisor.CleanEnd}}
	c := newController(t, res, runner, 2)

	sum, err := c.Run(context.Background(), "live")
	if err != nil || sum.Restarts != 1 {
		t.Errorf("summary = %+v, err = %v", sum, err)
	}
}

func TestRun_RefreshFailureReusesPreviousURL(t *testing.T) {
	res := &countingResolver{failOn: map[int]bool{2: true}}
	runner := &scriptedRunner{outcomes: []supervisor.Outcome{supervisor.AbnormalEnd, supervisor.CleanEnd}}
	c := newController(t, res, runner, 3)

	if _, err := c.Run(context.Background(), "live"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.urls) != 2 || runner.urls[0] != runner.urls[1] {
		t.Errorf("attempt URLs = %v, want the previous URL reused", runner.urls)
	}
}

func TestRun_InitialResolveFailure(t *testing.T) {
	res := &countingResolver{failOn: map[int]bool{1: true}}
	runner := &scriptedRunner{}
	c := newController(t, res, runner, 3)

	sum, err := c.Run(context.Background(), "live")
	if !errors.Is(err, ErrResolve) || !errors.Is(err, resolver.ErrNoURL) {
		t.Fatalf("err = %v", err)
	}
	if sum.Reason != ResolveFailed || len(runner.urls) != 0 {
		t.Errorf("summary = %+v, attempts run = %d", sum, len(runner.urls))
	}
}

func TestRun_CancelDuringRestartDelay(t *testing.T) {
	res := &countingResolver{}
	runner := &scriptedRunner{}
	c := NewController(res, runner, Config{RestartBudget: 5, RestartDelay: time.Hour, WorkRoot: t.TempDir()}, nil, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for c.Status().State != StateRestarting {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	sum, err := c.Run(ctx, "live")
	if !errors.Is(err, context.Canceled) || sum.Reason != Canceled {
		t.Errorf("summary = %+v, err = %v", sum, err)
	}
}

func TestRun_Status(t *testing.T) {
	res := &countingResolver{}
	runner := &scriptedRunner{outcomes: []supervisor.Outcome{supervisor.AbnormalEnd, supervisor.CleanEnd}}
	c := newController(t, res, runner, 3)

	if c.Status().State != StateIdle {
		t.Errorf("initial state = %q", c.Status().State)
	}
	c.Run(context.Background(), "live")

	st := c.Status()
	if st.State != StateFinished || st.Reason != "completed" {
		t.Errorf("status = %+v", st)
	}
	if st.Attempt != 2 || st.Restarts != 1 || st.RestartBudget != 3 || st.SegmentsAdmitted != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.LastOutcome != "clean_end" || st.SourceRef != "live" {
		t.Errorf("status = %+v", st)
	}
}

func TestClose_RemovesWorkDirs(t *testing.T) {
	root := t.TempDir()
	runner := &scriptedRunner{outcomes: []supervisor.Outcome{supervisor.CleanEnd}}
	c := NewController(&countingResolver{}, runner, Config{WorkRoot: root}, nil, nil)
	c.Run(context.Background(), "live")

	// Leave a file behind as if the worker had not reached it yet
	os.MkdirAll(runner.dirs[0], 0o755)
	os.WriteFile(filepath.Join(runner.dirs[0], "segment_000.wav"), []byte("x"), 0o644)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("work root not emptied: %v", entries)
	}
}

// End to end: real supervisor and worker driven by a fake capture process

func pipelineConfig() supervisor.Config {
	cfg := supervisor.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ExitGrace = 30 * time.Millisecond
	cfg.TerminateGrace = 50 * time.Millisecond
	cfg.InactivityLimit = 5 * time.Second
	cfg.Watcher.Debounce = 5 * time.Millisecond
	return cfg
}

type captionSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *captionSink) Emit(_ context.Context, r transcription.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, r.Text)
	return nil
}

func TestPipeline_ScenarioCompleted(t *testing.T) {
	launcher := &mock.Launcher{Script: func(_ int, dir string, p *mock.Process) {
		for i := range 3 {
			mock.WriteSegment(dir, i, 100*time.Millisecond)
			time.Sleep(15 * time.Millisecond)
		}
		p.Exit(0)
	}}
	engine := transcription.EngineFunc(func(_ context.Context, path string) (string, error) {
		return "caption for " + filepath.Base(path), nil
	})

	queue := transcription.NewQueue()
	sink := &captionSink{}
	worker := transcription.NewWorker(engine, queue, transcription.NewSeenSet(0), sink, transcription.WorkerConfig{}, nil, nil)
	worker.Start(context.Background())

	sup := supervisor.New(launcher, queue, pipelineConfig(), nil, nil)
	c := NewController(&countingResolver{}, sup, Config{RestartBudget: 3, WorkRoot: t.TempDir()}, nil, nil)

	sum, err := c.Run(context.Background(), "live")
	if err != nil || sum.Reason != Completed {
		t.Fatalf("summary = %+v, err = %v", sum, err)
	}
	if err := worker.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{"caption for segment_000.wav", "caption for segment_001.wav", "caption for segment_002.wav"}
	if fmt.Sprint(sink.lines) != fmt.Sprint(want) {
		t.Errorf("captions = %v, want %v", sink.lines, want)
	}
}

func TestPipeline_ScenarioRestartAfterConnectionRefused(t *testing.T) {
	launcher := &mock.Launcher{Script: func(n int, dir string, p *mock.Process) {
		if n == 0 {
			p.Diagnostic("Connection refused")
			time.Sleep(10 * time.Millisecond)
			p.Exit(1)
			return
		}
		mock.WriteSegment(dir, 0, 100*time.Millisecond)
		time.Sleep(15 * time.Millisecond)
		p.Exit(0)
	}}
	res := &countingResolver{}
	queue := transcription.NewQueue()
	sup := supervisor.New(launcher, queue, pipelineConfig(), nil, nil)
	c := NewController(res, sup, Config{RestartBudget: 3, WorkRoot: t.TempDir()}, nil, nil)
	defer c.Close()

	sum, err := c.Run(context.Background(), "live")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Restarts != 1 || sum.Attempts != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if res.count() != 2 {
		t.Errorf("resolver called %d times, want a re-resolve after the failure", res.count())
	}
	calls := launcher.Calls()
	if len(calls) != 2 || calls[0].URL == calls[1].URL {
		t.Errorf("launches = %+v", calls)
	}
	if st := c.Status(); st.LastFatal != "Connection refused" {
		t.Errorf("last fatal = %q", st.LastFatal)
	}
}

func TestPipeline_BenignDiagnosticsDoNotRestart(t *testing.T) {
	launcher := &mock.Launcher{Script: func(_ int, dir string, p *mock.Process) {
		p.Diagnostic("[https @ 0x1] keepalive request failed, retrying with new connection")
		mock.WriteSegment(dir, 0, 100*time.Millisecond)
		time.Sleep(15 * time.Millisecond)
		p.Exit(0)
	}}
	queue := transcription.NewQueue()
	sup := supervisor.New(launcher, queue, pipelineConfig(), nil, nil)
	c := NewController(&countingResolver{}, sup, Config{RestartBudget: 3, WorkRoot: t.TempDir()}, nil, nil)
	defer c.Close()

	sum, err := c.Run(context.Background(), "live")
	if err != nil || sum.Restarts != 0 || sum.Reason != Completed {
		t.Errorf("summary = %+v, err = %v", sum, err)
	}
	if len(launcher.Calls()) != 1 {
		t.Errorf("launches = %d, want 1", len(launcher.Calls()))
	}
}
