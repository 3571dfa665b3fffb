// Package segments models the fixed-duration audio files written by the
// capture process and discovers them as they complete.
package segments

import (
	"fmt"
	"path/filepath"
)

// Pattern is the printf-style file name the capture process writes segments under
const Pattern = "segment_%03d.wav"

// FileName returns the file name of the segment with the given index
func FileName(index int) string {
	return fmt.Sprintf(Pattern, index)
}

// Path returns the full path of segment index inside dir
func Path(dir string, index int) string {
	return filepath.Join(dir, FileName(index))
}

// State is the lifecycle position of a segment
type State int

const (
	// StateWriting means the capture process may still be appending to the file
	StateWriting State = iota
	// StateReady means the file size was non-zero and stable across the debounce window
	StateReady
	// StateAdmitted means the segment was handed to the transcription queue
	StateAdmitted
	// StateConsumed means the worker finished with it and deleted the file.
	// The worker counts it in its Stats instead of stamping the item.
	StateConsumed
)

// String returns the human-readable name of the state
func (s State) String() string {
	switch s {
	case StateWriting:
		return "writing"
	case StateReady:
		return "ready"
	case StateAdmitted:
		return "admitted"
	case StateConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// Segment is one fixed-duration slice of captured audio materialised as a file
type Segment struct {
	Index int
	Path  string
	Size  int64
	State State
}
