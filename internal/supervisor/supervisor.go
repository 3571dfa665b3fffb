// Package supervisor runs one capture attempt: it launches the capture
// process, feeds completed segments to the transcription queue and decides
// how the attempt ended.
package supervisor

import (
	"context"
	"time"

	"github.com/yegors/livecaptions/internal/capture"
	"github.com/yegors/livecaptions/internal/diagnostics"
	"github.com/yegors/livecaptions/internal/observe"
	"github.com/yegors/livecaptions/internal/segments"
	"github.com/yegors/livecaptions/internal/transcription"
	"github.com/yegors/livecaptions/pkg/logger"
)

// Outcome is how a capture attempt ended
type Outcome int

const (
	// CleanEnd means the process exited with code 0 and reported no failure
	CleanEnd Outcome = iota
	// AbnormalEnd means a nonzero exit, a fatal diagnostic line or a failed launch
	AbnormalEnd
	// StuckInactive means no segment completed within the inactivity limit
	StuckInactive
	// Interrupted means the attempt's context was cancelled
	Interrupted
)

// String returns the human-readable name of the outcome
func (o Outcome) String() string {
	switch o {
	case CleanEnd:
		return "clean_end"
	case AbnormalEnd:
		return "abnormal_end"
	case StuckInactive:
		return "stuck_inactive"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Report describes a finished attempt
type Report struct {
	Attempt   int
	Outcome   Outcome
	ExitCode  int
	LastFatal *diagnostics.Line
	Segments  int
	Started   time.Time
	Ended     time.Time

	// Err is set when the process could not be launched
	Err error
}

// Queue receives admitted segments
type Queue interface {
	Push(item transcription.WorkItem) error
}

// Config tunes the attempt loop
type Config struct {
	PollInterval    time.Duration
	InactivityLimit time.Duration

	// ExitGrace is how long segments may still complete after the process exits
	ExitGrace time.Duration
	// TerminateGrace is how long a gracefully signalled process may take to exit
	TerminateGrace time.Duration

	Watcher     segments.WatcherConfig
	Classifier  diagnostics.Classifier
	HistorySize int
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		InactivityLimit: 60 * time.Second,
		ExitGrace:       2 * time.Second,
		TerminateGrace:  2 * time.Second,
		Watcher: segments.WatcherConfig{
			Window:   segments.DefaultWindow,
			Lookback: segments.DefaultLookback,
			Debounce: segments.DefaultDebounce,
		},
		Classifier:  diagnostics.NewClassifier(nil, nil),
		HistorySize: diagnostics.DefaultHistorySize,
	}
}

// Supervisor runs capture attempts one at a time
type Supervisor struct {
	launcher capture.Launcher
	queue    Queue
	config   Config
	metrics  *observe.Metrics
	logger   *logger.Logger
}

// New creates a supervisor. metrics may be nil.
func New(launcher capture.Launcher, queue Queue, config Config, metrics *observe.Metrics, log *logger.Logger) *Supervisor {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Supervisor{
		launcher: launcher,
		queue:    queue,
		config:   config,
		metrics:  metrics,
		logger:   log.Named("supervisor"),
	}
}

// attempt is the state of one running attempt
type attempt struct {
	number      int
	proc        capture.Process
	monitor     *diagnostics.Monitor
	watcher     *segments.Watcher
	lastSegment time.Time
	admitted    int
	log         *logger.Logger
}

// RunAttempt captures streamURL into workDir until the process ends, stalls
// or ctx is cancelled. When it returns the process has exited and its
// diagnostics monitor has stopped.
func (s *Supervisor) RunAttempt(ctx context.Context, number int, streamURL, workDir string) Report {
	log := s.logger.With(logger.Int("attempt", number))
	report := Report{Attempt: number, Started: time.Now()}

	proc, err := s.launcher.Launch(ctx, streamURL, workDir)
	if err != nil {
		log.Error("Failed to launch capture process", logger.Error(err))
		report.Outcome = AbnormalEnd
		report.ExitCode = -1
		report.Err = err
		report.Ended = time.Now()
		s.metrics.AttemptFinished(ctx, report.Outcome.String())
		return report
	}

	a := &attempt{
		number:      number,
		proc:        proc,
		watcher:     segments.NewWatcher(workDir, s.config.Watcher),
		lastSegment: time.Now(),
		log:         log,
	}
	a.monitor = diagnostics.NewMonitor(proc.Diagnostics(), diagnostics.MonitorConfig{
		Classifier:  s.config.Classifier,
		HistorySize: s.config.HistorySize,
		OnFatal: func(diagnostics.Line) {
			s.metrics.FatalLine(ctx)
		},
	}, log)
	// The monitor must outlive ctx long enough to collect the final lines
	a.monitor.Start(context.WithoutCancel(ctx))

	log.Info("Capture attempt started", logger.String("work_dir", workDir))

	report.Outcome = s.loop(ctx, a)
	report.ExitCode = proc.ExitCode()
	report.Segments = a.admitted
	if l, ok := a.monitor.LastFatal(); ok {
		report.LastFatal = &l
	}
	report.Ended = time.Now()

	fields := []logger.Field{
		logger.String("outcome", report.Outcome.String()),
		logger.Int("exit_code", report.ExitCode),
		logger.Int("segments", report.Segments),
		logger.Duration("duration", report.Ended.Sub(report.Started)),
	}
	if report.LastFatal != nil {
		fields = append(fields, logger.String("last_fatal", report.LastFatal.Text))
	}
	if report.Outcome == CleanEnd {
		log.Info("Capture attempt ended", fields...)
	} else {
		log.Warn("Capture attempt ended", fields...)
	}
	s.metrics.AttemptFinished(ctx, report.Outcome.String())
	return report
}

func (s *Supervisor) loop(ctx context.Context, a *attempt) Outcome {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.admit(ctx, a)

		if ctx.Err() != nil {
			return s.interrupt(a)
		}
		select {
		case <-a.proc.Done():
			return s.finishExited(ctx, a)
		default:
		}

		if s.config.InactivityLimit > 0 {
			if idle := time.Since(a.lastSegment); idle > s.config.InactivityLimit {
				a.log.Warn("No new segments, capture presumed stuck",
					logger.Duration("idle", idle),
					logger.Duration("limit", s.config.InactivityLimit))
				s.terminate(a)
				s.stopMonitor(a)
				return StuckInactive
			}
		}

		select {
		case <-ctx.Done():
			return s.interrupt(a)
		case <-a.proc.Done():
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) interrupt(a *attempt) Outcome {
	a.log.Info("Capture attempt interrupted")
	s.terminate(a)
	s.stopMonitor(a)
	return Interrupted
}

// admit polls the watcher and queues whatever became ready
func (s *Supervisor) admit(ctx context.Context, a *attempt) {
	ready, err := a.watcher.Poll(ctx)
	if err != nil && ctx.Err() == nil {
		a.log.Warn("Failed to scan work dir", logger.Error(err))
	}
	for _, seg := range ready {
		seg.State = segments.StateAdmitted
		if err := s.queue.Push(transcription.WorkItem{Segment: seg, Attempt: a.number}); err != nil {
			a.log.Warn("Dropping segment, queue closed",
				logger.Int("segment", seg.Index),
				logger.Error(err))
			continue
		}
		a.admitted++
		a.lastSegment = time.Now()
		s.metrics.SegmentAdmitted(ctx)
		a.log.Debug("Segment admitted",
			logger.Int("segment", seg.Index),
			logger.Int64("bytes", seg.Size))
	}
}

// finishExited drains segments completed around the exit, then classifies it
func (s *Supervisor) finishExited(ctx context.Context, a *attempt) Outcome {
	if s.config.ExitGrace > 0 {
		timer := time.NewTimer(s.config.ExitGrace)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
	// Segments finalised at exit are admitted even if ctx was cancelled meanwhile
	s.admit(context.WithoutCancel(ctx), a)
	s.stopMonitor(a)

	code := a.proc.ExitCode()
	_, fatal := a.monitor.LastFatal()
	if code != 0 || fatal {
		return AbnormalEnd
	}
	return CleanEnd
}

// terminate signals gracefully, then kills if the process lingers
func (s *Supervisor) terminate(a *attempt) {
	if err := a.proc.Terminate(capture.Graceful); err != nil {
		a.log.Warn("Graceful termination failed", logger.Error(err))
	}
	if waitDone(a.proc, s.config.TerminateGrace) {
		return
	}

	a.log.Warn("Capture process ignored termination, killing it",
		logger.Duration("grace", s.config.TerminateGrace))
	if err := a.proc.Terminate(capture.Forced); err != nil {
		a.log.Error("Failed to kill capture process", logger.Error(err))
	}
	<-a.proc.Done()
}

// stopMonitor ends the diagnostics monitor and waits for its last line
func (s *Supervisor) stopMonitor(a *attempt) {
	select {
	case <-a.monitor.Done():
		return
	case <-time.After(s.config.PollInterval):
	}
	a.monitor.Stop()
	<-a.monitor.Done()
}

func waitDone(p capture.Process, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-p.Done():
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.Done():
		return true
	case <-timer.C:
		return false
	}
}
