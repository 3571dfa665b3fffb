// Package session drives a captioning session: it resolves the source,
// runs capture attempts back to back and decides when to give up.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yegors/livecaptions/internal/observe"
	"github.com/yegors/livecaptions/internal/resolver"
	"github.com/yegors/livecaptions/internal/supervisor"
	"github.com/yegors/livecaptions/pkg/logger"
)

var (
	// ErrRestartsExhausted is returned when the restart budget is used up
	ErrRestartsExhausted = errors.New("capture restart budget exhausted")
	// ErrResolve is returned when the source cannot be resolved at start
	ErrResolve = errors.New("failed to resolve stream URL")
)

// Reason is why a session ended
type Reason int

const (
	// Completed means the capture process ended cleanly
	Completed Reason = iota
	// RestartsExhausted means every allowed restart failed too
	RestartsExhausted
	// ResolveFailed means no stream URL could be obtained at start
	ResolveFailed
	// Canceled means the session's context was cancelled
	Canceled
)

// String returns the human-readable name of the reason
func (r Reason) String() string {
	switch r {
	case Completed:
		return "completed"
	case RestartsExhausted:
		return "restarts_exhausted"
	case ResolveFailed:
		return "resolve_failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// AttemptRunner runs a single capture attempt
type AttemptRunner interface {
	RunAttempt(ctx context.Context, attempt int, streamURL, workDir string) supervisor.Report
}

// Config holds the session's restart policy
type Config struct {
	// RestartBudget bounds restarts: the session ends once this many
	// attempts ended abnormally, or after the first one when zero.
	RestartBudget int
	// RestartDelay is the pause before each restart
	RestartDelay time.Duration
	// WorkRoot is where attempt directories are created; defaults to the OS temp dir
	WorkRoot string
}

// Summary describes a finished session
type Summary struct {
	Reason    Reason
	Attempts  int
	Restarts  int
	StreamURL string
	Last      supervisor.Report
	Started   time.Time
	Ended     time.Time
}

// Controller owns the session state. It is not reusable: call Run once.
type Controller struct {
	resolver resolver.Resolver
	runner   AttemptRunner
	config   Config
	metrics  *observe.Metrics
	logger   *logger.Logger

	mu     sync.Mutex
	status Status
	root   string
}

// NewController creates a controller. metrics may be nil.
func NewController(res resolver.Resolver, runner AttemptRunner, config Config, metrics *observe.Metrics, log *logger.Logger) *Controller {
	if config.RestartBudget < 0 {
		config.RestartBudget = 0
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{
		resolver: res,
		runner:   runner,
		config:   config,
		metrics:  metrics,
		logger:   log.Named("session"),
		status: Status{
			State:         StateIdle,
			RestartBudget: config.RestartBudget,
		},
	}
}

// Run captions sourceRef until the capture ends cleanly, the restart budget
// is exhausted or ctx is cancelled.
func (c *Controller) Run(ctx context.Context, sourceRef string) (Summary, error) {
	summary := Summary{Started: time.Now()}
	finish := func(reason Reason, err error) (Summary, error) {
		summary.Reason = reason
		summary.Ended = time.Now()
		c.update(func(s *Status) {
			s.State = StateFinished
			s.Reason = reason.String()
		})
		c.logger.Info("Session finished",
			logger.String("reason", reason.String()),
			logger.Int("attempts", summary.Attempts),
			logger.Int("restarts", summary.Restarts),
			logger.Duration("duration", summary.Ended.Sub(summary.Started)))
		return summary, err
	}

	c.update(func(s *Status) {
		s.State = StateResolving
		s.SourceRef = sourceRef
		s.Started = summary.Started
	})

	root, err := os.MkdirTemp(c.config.WorkRoot, "livecaptions-")
	if err != nil {
		return finish(ResolveFailed, fmt.Errorf("failed to create work dir: %w", err))
	}
	c.mu.Lock()
	c.root = root
	c.mu.Unlock()

	streamURL, err := c.resolver.Resolve(ctx, sourceRef)
	if err != nil {
		if ctx.Err() != nil {
			return finish(Canceled, ctx.Err())
		}
		c.logger.Error("Failed to resolve source", logger.String("source", sourceRef), logger.Error(err))
		return finish(ResolveFailed, fmt.Errorf("%w: %w", ErrResolve, err))
	}
	summary.StreamURL = streamURL

	restarts := 0
	for attempt := 1; ; attempt++ {
		log := c.logger.WithAttempt(attempt, restarts, c.config.RestartBudget)
		dir := filepath.Join(root, fmt.Sprintf("attempt-%03d", attempt))

		c.update(func(s *Status) {
			s.State = StateCapturing
			s.StreamURL = streamURL
			s.Attempt = attempt
			s.Restarts = restarts
		})
		log.Info("Starting capture attempt")

		report := c.runner.RunAttempt(ctx, attempt, streamURL, dir)
		summary.Attempts = attempt
		summary.Last = report
		c.sweep(dir)
		c.update(func(s *Status) {
			s.LastOutcome = report.Outcome.String()
			s.SegmentsAdmitted += report.Segments
			if report.LastFatal != nil {
				s.LastFatal = report.LastFatal.Text
			}
		})

		switch report.Outcome {
		case supervisor.CleanEnd:
			return finish(Completed, nil)
		case supervisor.Interrupted:
			return finish(Canceled, ctx.Err())
		}
		if ctx.Err() != nil {
			return finish(Canceled, ctx.Err())
		}

		restarts++
		summary.Restarts = restarts
		log = c.logger.WithAttempt(attempt, restarts, c.config.RestartBudget)
		if restarts >= c.config.RestartBudget {
			log.Error("Restart budget exhausted, giving up",
				logger.String("outcome", report.Outcome.String()))
			return finish(RestartsExhausted, ErrRestartsExhausted)
		}

		log.Warn("Restarting capture",
			logger.String("outcome", report.Outcome.String()),
			logger.Duration("delay", c.config.RestartDelay))
		c.metrics.Restart(ctx)
		c.update(func(s *Status) {
			s.State = StateRestarting
			s.Restarts = restarts
		})

		if !sleep(ctx, c.config.RestartDelay) {
			return finish(Canceled, ctx.Err())
		}

		refreshed, err := c.resolver.Resolve(ctx, sourceRef)
		switch {
		case err == nil:
			if refreshed != streamURL {
				log.Info("Stream URL refreshed")
			}
			streamURL = refreshed
			summary.StreamURL = refreshed
		case ctx.Err() != nil:
			return finish(Canceled, ctx.Err())
		default:
			log.Warn("Failed to refresh stream URL, reusing the previous one", logger.Error(err))
		}
	}
}

// Status returns a snapshot of the session state
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close removes every attempt directory. Call it once the transcription
// worker no longer needs the segment files.
func (c *Controller) Close() error {
	c.mu.Lock()
	root := c.root
	c.root = ""
	c.mu.Unlock()
	if root == "" {
		return nil
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove work dir: %w", err)
	}
	return nil
}

func (c *Controller) update(fn func(s *Status)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}

// sweep removes an attempt directory once the worker has emptied it.
// Directories still holding queued segments are left for Close.
func (c *Controller) sweep(dir string) {
	_ = os.Remove(dir)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
