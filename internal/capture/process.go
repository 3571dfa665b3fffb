// Package capture starts and stops the external process that records a live
// audio stream into fixed-duration segment files.
package capture

import (
	"context"
	"errors"
	"io"
)

// ErrNotStarted is returned when terminating a process that never started
var ErrNotStarted = errors.New("capture process not started")

// Signal selects how a process is terminated
type Signal int

const (
	// Graceful asks the process to finish writing and exit
	Graceful Signal = iota
	// Forced kills the process immediately
	Forced
)

// String returns the human-readable name of the signal
func (s Signal) String() string {
	if s == Forced {
		return "forced"
	}
	return "graceful"
}

// Process is a running capture process. Its only output artifacts are the
// segment files it writes into the attempt's working directory.
type Process interface {
	// Diagnostics is the process's diagnostic text stream. Closing it
	// discards any further output without blocking the process.
	Diagnostics() io.ReadCloser

	// Done is closed once the process has exited
	Done() <-chan struct{}

	// ExitCode is valid after Done is closed. Processes killed by a
	// signal report -1.
	ExitCode() int

	// Terminate delivers sig. Terminating an exited process is a no-op.
	Terminate(sig Signal) error
}

// Launcher starts capture processes writing segments of streamURL into workDir
type Launcher interface {
	Launch(ctx context.Context, streamURL, workDir string) (Process, error)
}

// LauncherFunc adapts a function to the Launcher interface
type LauncherFunc func(ctx context.Context, streamURL, workDir string) (Process, error)

// Launch implements Launcher
func (f LauncherFunc) Launch(ctx context.Context, streamURL, workDir string) (Process, error) {
	return f(ctx, streamURL, workDir)
}
