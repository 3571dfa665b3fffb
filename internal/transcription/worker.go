package transcription

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/livecaptions/internal/audio"
	"github.com/yegors/livecaptions/internal/observe"
	"github.com/yegors/livecaptions/pkg/logger"
)

// WorkerConfig tunes a Worker
type WorkerConfig struct {
	// CallTimeout bounds a single engine call. Zero leaves calls unbounded.
	CallTimeout time.Duration

	// Now stamps emitted captions; defaults to time.Now
	Now func() time.Time
}

// Stats counts what the worker did with the items it consumed
type Stats struct {
	Processed  int64 `json:"processed"`
	Emitted    int64 `json:"emitted"`
	Duplicates int64 `json:"duplicates"`
	Empty      int64 `json:"empty"`
	Failures   int64 `json:"failures"`
	Consumed   int64 `json:"consumed"`
}

// Worker is the single consumer of the transcription queue. For every item
// it transcribes the segment, drops empty and already seen text, emits the
// rest and deletes the segment file whatever happened.
type Worker struct {
	engine  Engine
	queue   *Queue
	seen    *SeenSet
	sink    Sink
	metrics *observe.Metrics
	logger  *logger.Logger

	callTimeout time.Duration
	now         func() time.Time

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	started   atomic.Bool

	processed  atomic.Int64
	emitted    atomic.Int64
	duplicates atomic.Int64
	empty      atomic.Int64
	failures   atomic.Int64
	consumed   atomic.Int64
}

// NewWorker creates a worker. metrics may be nil.
func NewWorker(engine Engine, queue *Queue, seen *SeenSet, sink Sink, cfg WorkerConfig, metrics *observe.Metrics, log *logger.Logger) *Worker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		engine:      engine,
		queue:       queue,
		seen:        seen,
		sink:        sink,
		metrics:     metrics,
		logger:      log.Named("worker"),
		callTimeout: cfg.CallTimeout,
		now:         cfg.Now,
		done:        make(chan struct{}),
	}
}

// Start runs the worker in the background until the queue is closed and
// drained or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		w.started.Store(true)
		go func() {
			defer close(w.done)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("Transcription worker stopped", logger.Error(err))
			}
		}()
	})
}

// Done is closed when a started worker has returned
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run consumes the queue on the calling goroutine. It returns nil once the
// queue is closed and every queued item has been handled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Transcription worker started", logger.String("engine", w.engine.Name()))
	for {
		item, err := w.queue.Pop(ctx)
		if errors.Is(err, ErrQueueClosed) {
			w.logger.Info("Transcription worker drained",
				logger.Int64("processed", w.processed.Load()),
				logger.Int64("emitted", w.emitted.Load()))
			return nil
		}
		if err != nil {
			return err
		}
		w.process(ctx, item)
	}
}

// Shutdown closes the queue and waits up to timeout for the worker to finish
// what is already queued. On timeout the worker is cancelled and segments it
// never reached are deleted unprocessed.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.queue.Close()
	if !w.started.Load() {
		w.discard(w.queue.Drain())
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
	}

	w.cancel()
	left := w.queue.Drain()
	w.discard(left)
	w.logger.Warn("Transcription worker did not drain in time",
		logger.Duration("timeout", timeout),
		logger.Int("discarded", len(left)))
	return fmt.Errorf("worker did not drain within %s", timeout)
}

// Stats returns a snapshot of the worker's counters
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:  w.processed.Load(),
		Emitted:    w.emitted.Load(),
		Duplicates: w.duplicates.Load(),
		Empty:      w.empty.Load(),
		Failures:   w.failures.Load(),
		Consumed:   w.consumed.Load(),
	}
}

func (w *Worker) process(ctx context.Context, item WorkItem) {
	w.metrics.SegmentDequeued(ctx)
	w.processed.Add(1)
	defer w.cleanup(&item)

	seg := item.Segment
	log := w.logger.With(
		logger.Int("segment", seg.Index),
		logger.Int("attempt", item.Attempt))

	var duration time.Duration
	info, err := audio.Inspect(seg.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("Segment file vanished before transcription", logger.String("path", seg.Path))
		return
	case err != nil:
		log.Debug("Could not read segment header", logger.Error(err))
	case info.Empty():
		w.empty.Add(1)
		w.metrics.TranscriptDropped(ctx, observe.DropEmpty)
		log.Debug("Skipping segment without audio")
		return
	default:
		duration = info.Duration
	}

	start := time.Now()
	text, err := w.transcribe(ctx, seg.Path)
	took := time.Since(start)
	w.metrics.EngineCall(ctx, w.engine.Name(), took, err)
	if err != nil {
		w.failures.Add(1)
		log.Error("Transcription failed", logger.Error(err), logger.Duration("took", took))
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		w.empty.Add(1)
		w.metrics.TranscriptDropped(ctx, observe.DropEmpty)
		return
	}
	if !w.seen.Admit(text) {
		w.duplicates.Add(1)
		w.metrics.TranscriptDropped(ctx, observe.DropDuplicate)
		log.Debug("Dropping duplicate caption", logger.String("text", text))
		return
	}

	result := Result{
		Timestamp:     w.now(),
		Text:          text,
		SegmentIndex:  seg.Index,
		Attempt:       item.Attempt,
		AudioDuration: duration,
	}
	w.emitted.Add(1)
	w.metrics.TranscriptEmitted(ctx)
	if err := w.sink.Emit(ctx, result); err != nil {
		w.metrics.SinkFailure(ctx, "caption")
		log.Error("Failed to emit caption", logger.Error(err))
	}
}

// transcribe calls the engine, converting a panic into an error
func (w *Worker) transcribe(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	if w.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.callTimeout)
		defer cancel()
	}
	return w.engine.Transcribe(ctx, path)
}

// cleanup deletes the segment file and counts the segment consumed
func (w *Worker) cleanup(item *WorkItem) {
	if err := os.Remove(item.Segment.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("Failed to delete segment",
			logger.String("path", item.Segment.Path),
			logger.Error(err))
	}
	w.consumed.Add(1)
}

func (w *Worker) discard(items []WorkItem) {
	for _, item := range items {
		w.metrics.SegmentDequeued(context.Background())
		w.cleanup(&item)
	}
}
