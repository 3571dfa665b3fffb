package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// WriterSink prints each caption as one "[HH:MM:SS] text" line
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit implements Sink
func (s *WriterSink) Emit(_ context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, r.Format())
	return err
}

// MultiSink fans a caption out to every sink. All sinks are tried and their
// errors joined.
type MultiSink []Sink

// Emit implements Sink
func (m MultiSink) Emit(ctx context.Context, r Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
