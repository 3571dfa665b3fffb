package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/yegors/livecaptions/internal/segments"
	"github.com/yegors/livecaptions/pkg/logger"
)

// Config describes how the capture tool is invoked
type Config struct {
	FFmpegPath        string
	SampleRate        int
	Channels          int
	SegmentDuration   time.Duration
	ReconnectDelayMax time.Duration
	IOTimeout         time.Duration
	LogLevel          string

	// WaitDelay bounds how long the process may linger after its context
	// is cancelled before it is killed
	WaitDelay time.Duration
}

// DefaultConfig matches what speech models expect: 16 kHz mono, 15 s segments
func DefaultConfig() Config {
	return Config{
		FFmpegPath:        "ffmpeg",
		SampleRate:        16000,
		Channels:          1,
		SegmentDuration:   15 * time.Second,
		ReconnectDelayMax: 5 * time.Second,
		IOTimeout:         10 * time.Second,
		LogLevel:          "warning",
		WaitDelay:         2 * time.Second,
	}
}

// Args builds the ffmpeg argument list. Reconnect and timeout flags are
// input options and must precede -i.
func (c Config) Args(streamURL, workDir string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", c.LogLevel,
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", strconv.Itoa(int(c.ReconnectDelayMax / time.Second)),
		"-timeout", strconv.FormatInt(c.IOTimeout.Microseconds(), 10),
		"-i", streamURL,
		"-vn",
		"-ar", strconv.Itoa(c.SampleRate),
		"-ac", strconv.Itoa(c.Channels),
		"-c:a", "pcm_s16le",
		"-f", "segment",
		"-segment_time", strconv.Itoa(int(c.SegmentDuration / time.Second)),
		"-segment_format", "wav",
		"-reset_timestamps", "1",
		"-y",
		filepath.Join(workDir, segments.Pattern),
	}
}

// FFmpeg launches ffmpeg processes with the segment muxer
type FFmpeg struct {
	config Config
	logger *logger.Logger
}

// NewFFmpeg creates a launcher
func NewFFmpeg(config Config, log *logger.Logger) *FFmpeg {
	if log == nil {
		log = logger.Nop()
	}
	return &FFmpeg{
		config: config,
		logger: log.Named("ffmpeg"),
	}
}

// Launch starts ffmpeg capturing streamURL into workDir
func (f *FFmpeg) Launch(ctx context.Context, streamURL, workDir string) (Process, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	return f.start(ctx, f.config.FFmpegPath, f.config.Args(streamURL, workDir))
}

// start runs name with args, routing stderr through a pipe the caller reads
func (f *FFmpeg) start(ctx context.Context, name string, args []string) (*execProcess, error) {
	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = drainWriter{pw}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = f.config.WaitDelay

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	f.logger.Debug("Started capture process",
		logger.String("binary", name),
		logger.Int("pid", cmd.Process.Pid))

	p := &execProcess{
		cmd:    cmd,
		stderr: pr,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		pw.Close()
		p.finish(err)
		f.logger.Debug("Capture process exited",
			logger.Int("pid", cmd.Process.Pid),
			logger.Int("exit_code", p.ExitCode()))
	}()
	return p, nil
}

// drainWriter keeps consuming output after the reading side went away so
// the process never stalls on a full stderr pipe
type drainWriter struct {
	w *io.PipeWriter
}

func (d drainWriter) Write(b []byte) (int, error) {
	n, err := d.w.Write(b)
	if errors.Is(err, io.ErrClosedPipe) {
		return len(b), nil
	}
	return n, err
}

// execProcess adapts an exec.Cmd to Process
type execProcess struct {
	cmd    *exec.Cmd
	stderr *io.PipeReader
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) finish(waitErr error) {
	code := 0
	if state := p.cmd.ProcessState; state != nil {
		code = state.ExitCode()
	} else if waitErr != nil {
		code = -1
	}
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Diagnostics() io.ReadCloser {
	return p.stderr
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *execProcess) Terminate(sig Signal) error {
	if p.cmd.Process == nil {
		return ErrNotStarted
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	var err error
	if sig == Forced {
		err = p.cmd.Process.Kill()
	} else {
		err = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
