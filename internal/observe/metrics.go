// Package observe holds the OpenTelemetry metric instruments recorded by the
// captioning pipeline and the provider setup that exposes them to Prometheus.
//
// All Record methods are safe on a nil *Metrics so components can run
// without metrics wired in (tests, one-off runs).
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every instrument below
const meterName = "github.com/yegors/livecaptions"

// Drop reasons recorded on TranscriptsDropped
const (
	DropDuplicate = "duplicate"
	DropEmpty     = "empty"
)

// Metrics holds the pipeline's instruments
type Metrics struct {
	SegmentsAdmitted   metric.Int64Counter
	TranscriptsEmitted metric.Int64Counter

	// TranscriptsDropped is recorded with attribute.String("reason", ...)
	TranscriptsDropped metric.Int64Counter

	// EngineFailures and EngineDuration carry attribute.String("engine", ...)
	EngineFailures metric.Int64Counter
	EngineDuration metric.Float64Histogram

	// Attempts counts finished capture attempts by attribute.String("outcome", ...)
	Attempts       metric.Int64Counter
	Restarts       metric.Int64Counter
	FatalLines     metric.Int64Counter
	QueueDepth     metric.Int64UpDownCounter
	HTTPDuration   metric.Float64Histogram
	SinkFailures   metric.Int64Counter
	ResolveRetries metric.Int64Counter
}

// engineBuckets covers anything from a local model on short audio to a slow
// cloud round trip
var engineBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// NewMetrics creates every instrument on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentsAdmitted, err = m.Int64Counter("livecaptions.segments.admitted",
		metric.WithDescription("Segments admitted to the transcription queue."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsEmitted, err = m.Int64Counter("livecaptions.transcripts.emitted",
		metric.WithDescription("Captions emitted to sinks."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsDropped, err = m.Int64Counter("livecaptions.transcripts.dropped",
		metric.WithDescription("Transcripts dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.EngineFailures, err = m.Int64Counter("livecaptions.engine.failures",
		metric.WithDescription("Transcription engine failures by engine."),
	); err != nil {
		return nil, err
	}
	if met.EngineDuration, err = m.Float64Histogram("livecaptions.engine.duration",
		metric.WithDescription("Latency of one transcription engine call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(engineBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Attempts, err = m.Int64Counter("livecaptions.capture.attempts",
		metric.WithDescription("Finished capture attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("livecaptions.capture.restarts",
		metric.WithDescription("Capture restarts performed by the session."),
	); err != nil {
		return nil, err
	}
	if met.FatalLines, err = m.Int64Counter("livecaptions.diagnostics.fatal",
		metric.WithDescription("Fatal diagnostic lines reported by the capture process."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("livecaptions.queue.depth",
		metric.WithDescription("Segments waiting for transcription."),
	); err != nil {
		return nil, err
	}
	if met.HTTPDuration, err = m.Float64Histogram("livecaptions.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.SinkFailures, err = m.Int64Counter("livecaptions.sink.failures",
		metric.WithDescription("Caption sink write failures."),
	); err != nil {
		return nil, err
	}
	if met.ResolveRetries, err = m.Int64Counter("livecaptions.resolve.retries",
		metric.WithDescription("Stream URL probe retries."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is shorthand for attribute.String
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// SegmentAdmitted records one segment entering the queue
func (m *Metrics) SegmentAdmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.SegmentsAdmitted.Add(ctx, 1)
	m.QueueDepth.Add(ctx, 1)
}

// SegmentDequeued records one segment leaving the queue
func (m *Metrics) SegmentDequeued(ctx context.Context) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(ctx, -1)
}

// TranscriptEmitted records a caption reaching the sinks
func (m *Metrics) TranscriptEmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.TranscriptsEmitted.Add(ctx, 1)
}

// TranscriptDropped records a transcript dropped for reason
func (m *Metrics) TranscriptDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.TranscriptsDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// EngineCall records the latency and outcome of one engine call
func (m *Metrics) EngineCall(ctx context.Context, engine string, took time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(Attr("engine", engine))
	m.EngineDuration.Record(ctx, took.Seconds(), attrs)
	if err != nil {
		m.EngineFailures.Add(ctx, 1, attrs)
	}
}

// AttemptFinished records the outcome of a capture attempt
func (m *Metrics) AttemptFinished(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Attempts.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// Restart records one restart of the capture process
func (m *Metrics) Restart(ctx context.Context) {
	if m == nil {
		return
	}
	m.Restarts.Add(ctx, 1)
}

// FatalLine records a fatal diagnostic line
func (m *Metrics) FatalLine(ctx context.Context) {
	if m == nil {
		return
	}
	m.FatalLines.Add(ctx, 1)
}

// SinkFailure records a sink that failed to accept a caption
func (m *Metrics) SinkFailure(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.Add(ctx, 1, metric.WithAttributes(Attr("sink", sink)))
}

// ResolveRetry records a retried stream probe
func (m *Metrics) ResolveRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.ResolveRetries.Add(ctx, 1)
}

// HTTPRequest records one served HTTP request
func (m *Metrics) HTTPRequest(ctx context.Context, method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		Attr("method", method),
		Attr("route", route),
		attribute.Int("status", status),
	))
}
