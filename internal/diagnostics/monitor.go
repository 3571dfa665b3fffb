package diagnostics

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/livecaptions/pkg/logger"
)

// DefaultHistorySize is how many recent lines a monitor keeps
const DefaultHistorySize = 50

// maxLineBytes bounds a single diagnostic line
const maxLineBytes = 64 * 1024

// MonitorConfig configures a Monitor
type MonitorConfig struct {
	Classifier  Classifier
	HistorySize int

	// OnFatal is called from the monitor goroutine for every fatal line. May be nil.
	OnFatal func(Line)
}

// Monitor consumes a diagnostic stream line by line until the stream ends
// or Stop is called. Stop closes the stream so a blocked read returns and
// the producer never stalls on a full pipe.
type Monitor struct {
	stream     io.ReadCloser
	classifier Classifier
	historyCap int
	onFatal    func(Line)
	logger     *logger.Logger

	mu        sync.Mutex
	history   []Line
	lastFatal *Line
	lines     int

	stopping  atomic.Bool
	stopOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}
}

// NewMonitor creates a monitor over stream
func NewMonitor(stream io.ReadCloser, cfg MonitorConfig, log *logger.Logger) *Monitor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Classifier.ignore == nil && cfg.Classifier.triggers == nil {
		cfg.Classifier = NewClassifier(nil, nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		stream:     stream,
		classifier: cfg.Classifier,
		historyCap: cfg.HistorySize,
		onFatal:    cfg.OnFatal,
		logger:     log.Named("diagnostics"),
		done:       make(chan struct{}),
	}
}

// Start runs the monitor in a background goroutine. Cancelling ctx stops it.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go func() {
			select {
			case <-ctx.Done():
				m.Stop()
			case <-m.done:
			}
		}()
		go m.run()
	})
}

// Stop asks the monitor to finish. Safe to call multiple times and before Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		if err := m.stream.Close(); err != nil {
			m.logger.Debug("Closing diagnostic stream", logger.Error(err))
		}
	})
}

// Done is closed once the monitor has stopped reading
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	defer m.Stop()

	scanner := bufio.NewScanner(m.stream)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		if m.stopping.Load() {
			return
		}
		m.observe(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !m.stopping.Load() {
		m.logger.Debug("Diagnostic stream ended with error", logger.Error(err))
	}
}

// observe classifies and records one line
func (m *Monitor) observe(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	line := Line{Text: text, Severity: m.classifier.Classify(text), At: time.Now()}

	m.mu.Lock()
	m.lines++
	m.history = append(m.history, line)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
	if line.Severity == Fatal {
		l := line
		m.lastFatal = &l
	}
	m.mu.Unlock()

	switch line.Severity {
	case Fatal:
		m.logger.Error("Capture process reported failure", logger.String("line", text))
		if m.onFatal != nil {
			m.onFatal(line)
		}
	case Noteworthy:
		m.logger.Debug("Capture process output", logger.String("line", text))
	}
}

// LastFatal returns the most recent fatal line, if any
func (m *Monitor) LastFatal() (Line, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastFatal == nil {
		return Line{}, false
	}
	return *m.lastFatal, true
}

// Last returns the most recent line of any severity
func (m *Monitor) Last() (Line, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Line{}, false
	}
	return m.history[len(m.history)-1], true
}

// History returns a copy of the retained lines, oldest first
func (m *Monitor) History() []Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Line, len(m.history))
	copy(out, m.history)
	return out
}

// LineCount returns the total number of non-empty lines observed
func (m *Monitor) LineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines
}
