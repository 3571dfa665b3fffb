package segments

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
)

// Default scan parameters
const (
	DefaultWindow   = 15
	DefaultLookback = 2
	DefaultDebounce = 500 * time.Millisecond
)

// StatFunc reports the current size of the file at path. It returns an
// error satisfying errors.Is(err, fs.ErrNotExist) for missing files.
type StatFunc func(path string) (int64, error)

// WatcherConfig tunes the sliding-window scan
type WatcherConfig struct {
	// Window is how many indices past the next expected one are scanned
	Window int
	// Lookback is how many indices before the next expected one are rescanned
	Lookback int
	// Debounce is how long a candidate's size must stay unchanged to count as ready
	Debounce time.Duration
	// Stat overrides the filesystem lookup; defaults to os.Stat
	Stat StatFunc
}

// Watcher polls an attempt's working directory for completed segment files.
// It is driven from the supervisor's poll loop and is not safe for
// concurrent use.
type Watcher struct {
	dir      string
	window   int
	lookback int
	debounce time.Duration
	stat     StatFunc

	next     int
	admitted map[int]struct{}
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, cfg WatcherConfig) *Watcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Lookback < 0 {
		cfg.Lookback = 0
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.Stat == nil {
		cfg.Stat = osStat
	}
	return &Watcher{
		dir:      dir,
		window:   cfg.Window,
		lookback: cfg.Lookback,
		debounce: cfg.Debounce,
		stat:     cfg.Stat,
		admitted: make(map[int]struct{}),
	}
}

// Dir returns the directory being watched
func (w *Watcher) Dir() string {
	return w.dir
}

// Next returns the next index the watcher expects the capture process to write
func (w *Watcher) Next() int {
	return w.next
}

// Admitted returns how many segments have been admitted so far
func (w *Watcher) Admitted() int {
	return len(w.admitted)
}

// Poll scans [max(0, next-lookback), next+window) and returns the segments
// that became ready since the previous call, in ascending index order. Each
// index is returned at most once over the watcher's lifetime. A segment
// that is empty or still growing holds back every higher index, so
// admission order follows index order.
func (w *Watcher) Poll(ctx context.Context) ([]Segment, error) {
	type candidate struct {
		index int
		path  string
		size  int64
	}

	start := w.next - w.lookback
	if start < 0 {
		start = 0
	}
	end := w.next + w.window

	var candidates []candidate
	for i := start; i < end; i++ {
		if _, done := w.admitted[i]; done {
			continue
		}
		path := Path(w.dir, i)
		size, err := w.stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		// An existing but empty file is still being opened by the writer;
		// nothing above it may be admitted before it
		if size <= 0 {
			break
		}
		candidates = append(candidates, candidate{index: i, path: path, size: size})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if w.debounce > 0 {
		timer := time.NewTimer(w.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var ready []Segment
	for _, c := range candidates {
		size, err := w.stat(c.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return ready, err
		}
		// Still growing; it and everything above it wait for a later poll
		if size != c.size {
			break
		}
		w.admitted[c.index] = struct{}{}
		if c.index+1 > w.next {
			w.next = c.index + 1
		}
		ready = append(ready, Segment{
			Index: c.index,
			Path:  c.path,
			Size:  size,
			State: StateReady,
		})
	}
	return ready, nil
}

func osStat(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}
