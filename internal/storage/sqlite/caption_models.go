package sqlite

import "time"

// CaptionRecord is one stored caption
type CaptionRecord struct {
	ID            int64         `json:"id"`
	Source        string        `json:"source"`
	Attempt       int           `json:"attempt"`
	SegmentIndex  int           `json:"segment_index"`
	Text          string        `json:"text"`
	Timestamp     time.Time     `json:"timestamp"`
	AudioDuration time.Duration `json:"audio_duration"`
	CreatedAt     time.Time     `json:"created_at"`
}
