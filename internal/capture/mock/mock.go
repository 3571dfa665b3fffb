// Package mock provides test doubles for the capture package interfaces.
//
// Launcher hands out Process values whose diagnostics, segment output and
// exit are driven by the test. A Script attached to the Launcher runs once
// per launch in its own goroutine and plays the role of the capture tool:
//
//	l := &mock.Launcher{Script: func(n int, dir string, p *mock.Process) {
//	    mock.WriteSegment(dir, 0, time.Second)
//	    p.Exit(0)
//	}}
package mock

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/yegors/livecaptions/internal/audio"
	"github.com/yegors/livecaptions/internal/capture"
	"github.com/yegors/livecaptions/internal/segments"
)

// TerminatedExitCode is what a Process reports after a signal ended it
const TerminatedExitCode = -1

// Process is a mock implementation of capture.Process.
type Process struct {
	// IgnoreGraceful makes the process survive Graceful terminations, so
	// only a Forced signal ends it.
	IgnoreGraceful bool

	diag *lineStream
	done chan struct{}

	mu             sync.Mutex
	exitOnce       sync.Once
	exitCode       int
	terminateCalls []capture.Signal
}

// NewProcess returns a running process with an open diagnostic stream
func NewProcess() *Process {
	return &Process{
		diag: newLineStream(),
		done: make(chan struct{}),
	}
}

// Diagnostic emits one line on the diagnostic stream. Lines written after
// the reader closed the stream or the process exited are dropped.
func (p *Process) Diagnostic(line string) {
	p.diag.send(line + "\n")
}

// Exit ends the process with code. Only the first call has an effect.
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		p.diag.eof()
		close(p.done)
	})
}

// Exited reports whether the process has ended
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// TerminateCalls returns the signals delivered so far, in order
func (p *Process) TerminateCalls() []capture.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capture.Signal, len(p.terminateCalls))
	copy(out, p.terminateCalls)
	return out
}

// Diagnostics implements capture.Process
func (p *Process) Diagnostics() io.ReadCloser {
	return p.diag
}

// Done implements capture.Process
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode implements capture.Process
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Terminate records sig and ends the process unless it ignores sig
func (p *Process) Terminate(sig capture.Signal) error {
	p.mu.Lock()
	p.terminateCalls = append(p.terminateCalls, sig)
	ignore := sig == capture.Graceful && p.IgnoreGraceful
	p.mu.Unlock()

	if !ignore {
		p.Exit(TerminatedExitCode)
	}
	return nil
}

var _ capture.Process = (*Process)(nil)

// LaunchCall records a single invocation of Launcher.Launch.
type LaunchCall struct {
	URL     string
	WorkDir string
}

// Launcher is a mock implementation of capture.Launcher.
type Launcher struct {
	// Script, if set, runs in its own goroutine for every successful launch.
	// n is the zero-based launch number.
	Script func(n int, workDir string, p *Process)

	// IgnoreGraceful is copied into every launched Process
	IgnoreGraceful bool

	// LaunchErr, if non-nil, is returned by Launch
	LaunchErr error

	mu        sync.Mutex
	calls     []LaunchCall
	processes []*Process
}

// Launch records the call, creates workDir and starts a new Process.
// Cancelling ctx ends the process the way a killed child would.
func (l *Launcher) Launch(ctx context.Context, streamURL, workDir string) (capture.Process, error) {
	l.mu.Lock()
	l.calls = append(l.calls, LaunchCall{URL: streamURL, WorkDir: workDir})
	if l.LaunchErr != nil {
		err := l.LaunchErr
		l.mu.Unlock()
		return nil, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	p := NewProcess()
	p.IgnoreGraceful = l.IgnoreGraceful
	n := len(l.processes)
	l.processes = append(l.processes, p)
	script := l.Script
	l.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			p.Exit(TerminatedExitCode)
		case <-p.done:
		}
	}()
	if script != nil {
		go script(n, workDir, p)
	}
	return p, nil
}

// Calls returns the recorded launches, in order
func (l *Launcher) Calls() []LaunchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LaunchCall, len(l.calls))
	copy(out, l.calls)
	return out
}

// Processes returns the processes started so far, in order
func (l *Launcher) Processes() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Process, len(l.processes))
	copy(out, l.processes)
	return out
}

var _ capture.Launcher = (*Launcher)(nil)

// WriteSegment writes segment index into dir as a complete WAV file holding
// d of silence in the speech format.
func WriteSegment(dir string, index int, d time.Duration) error {
	pcm := make([]byte, audio.SpeechFormat.Bytes(d))
	return audio.WriteFile(segments.Path(dir, index), audio.SpeechFormat, pcm)
}

// lineStream is an unbounded-enough in-memory pipe that never blocks the writer
type lineStream struct {
	lines  chan string
	closed chan struct{}

	mu        sync.Mutex
	ended     bool
	closeOnce sync.Once
	pending   []byte
}

const lineBuffer = 1024

func newLineStream() *lineStream {
	return &lineStream{
		lines:  make(chan string, lineBuffer),
		closed: make(chan struct{}),
	}
}

func (s *lineStream) send(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case <-s.closed:
	case s.lines <- line:
	default:
	}
}

func (s *lineStream) eof() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.lines)
	}
}

func (s *lineStream) Read(b []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return 0, io.EOF
			}
			s.pending = []byte(line)
		case <-s.closed:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *lineStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
