// Package diagnostics reads the capture process's diagnostic output and
// separates transient noise from failures worth restarting for.
package diagnostics

import (
	"strings"
	"time"
)

// Severity classifies a single diagnostic line
type Severity int

const (
	// Benign lines describe conditions the capture tool recovers from by itself
	Benign Severity = iota
	// Noteworthy lines are kept in history but do not indicate failure
	Noteworthy
	// Fatal lines mean the attempt should be treated as failed
	Fatal
)

// String returns the human-readable name of the severity
func (s Severity) String() string {
	switch s {
	case Benign:
		return "benign"
	case Noteworthy:
		return "noteworthy"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Line is one classified line of diagnostic output
type Line struct {
	Text     string
	Severity Severity
	At       time.Time
}

// DefaultIgnorePatterns are transient HTTP/HLS conditions ffmpeg retries on its own.
// Live HLS streams hop between CDN hosts, which produces these constantly.
var DefaultIgnorePatterns = []string{
	"keepalive request failed",
	"cannot reuse http connection for different host",
	"retrying with new connection",
	"http error",
	"http/1.1 403",
}

// DefaultTriggerPatterns mark a line as fatal unless an ignore pattern matches
var DefaultTriggerPatterns = []string{
	"error",
	"failed",
	"timeout",
	"timed out",
	"connection refused",
}

// Classifier matches lines case-insensitively against ignore and trigger substrings
type Classifier struct {
	ignore   []string
	triggers []string
}

// NewClassifier builds a classifier. Nil slices select the defaults.
func NewClassifier(ignore, triggers []string) Classifier {
	if ignore == nil {
		ignore = DefaultIgnorePatterns
	}
	if triggers == nil {
		triggers = DefaultTriggerPatterns
	}
	return Classifier{
		ignore:   lowerAll(ignore),
		triggers: lowerAll(triggers),
	}
}

// Classify returns the severity of text. The ignore list wins over triggers.
func (c Classifier) Classify(text string) Severity {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Benign
	}
	for _, p := range c.ignore {
		if strings.Contains(lower, p) {
			return Benign
		}
	}
	for _, p := range c.triggers {
		if strings.Contains(lower, p) {
			return Fatal
		}
	}
	return Noteworthy
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
