package session

import "time"

// Session states reported by Status
const (
	StateIdle       = "idle"
	StateResolving  = "resolving"
	StateCapturing  = "capturing"
	StateRestarting = "restarting"
	StateFinished   = "finished"
)

// Status is a point-in-time view of the session
type Status struct {
	State            string    `json:"state"`
	SourceRef        string    `json:"source"`
	StreamURL        string    `json:"stream_url,omitempty"`
	Attempt          int       `json:"attempt"`
	Restarts         int       `json:"restarts"`
	RestartBudget    int       `json:"restart_budget"`
	SegmentsAdmitted int       `json:"segments_admitted"`
	LastOutcome      string    `json:"last_outcome,omitempty"`
	LastFatal        string    `json:"last_fatal,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Started          time.Time `json:"started"`
}
