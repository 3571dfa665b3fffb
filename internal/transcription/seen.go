package transcription

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// SeenSet remembers every caption text accepted during a session. It spans
// capture attempts and grows without bound for the session's lifetime.
type SeenSet struct {
	mu         sync.Mutex
	texts      map[string]struct{}
	last       string
	similarity float64
}

// NewSeenSet creates an empty set. A similarity in (0, 1] additionally
// rejects texts whose Jaro-Winkler similarity to the last accepted caption
// reaches that threshold; 0 keeps exact matching only.
func NewSeenSet(similarity float64) *SeenSet {
	if similarity < 0 || similarity > 1 {
		similarity = 0
	}
	return &SeenSet{
		texts:      make(map[string]struct{}),
		similarity: similarity,
	}
}

// Admit records text and reports whether it was new. The first occurrence wins.
func (s *SeenSet) Admit(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.texts[text]; ok {
		return false
	}
	if s.similarity > 0 && s.last != "" {
		if matchr.JaroWinkler(strings.ToLower(text), strings.ToLower(s.last), false) >= s.similarity {
			return false
		}
	}
	s.texts[text] = struct{}{}
	s.last = text
	return true
}

// Contains reports whether text was accepted before
func (s *SeenSet) Contains(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.texts[text]
	return ok
}

// Len returns the number of distinct accepted texts
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}
