package models

import "time"

// RunState is the orchestrator lifecycle state
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateStopped   RunState = "stopped"
	RunStateCompleted RunState = "completed"
)

// IsTerminal reports whether the run has ended (a new Start is allowed)
func (s RunState) IsTerminal() bool {
	return s == RunStateStopped || s == RunStateCompleted
}

// Progress is the number of finished items out of the discovered total
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// RunSnapshot is a point-in-time copy of the orchestrator state for the UI
type RunSnapshot struct {
	RunID      string         `json:"run_id"`
	State      RunState       `json:"state"`
	Progress   Progress       `json:"progress"`
	Message    string         `json:"message"`
	NoWork     bool           `json:"no_work"`
	Records    []ReportRecord `json:"records"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// RunSummary is the persisted history entry for one run
type RunSummary struct {
	ID         string    `json:"id" badgerhold:"key"`
	ListingURL string    `json:"listing_url"`
	State      RunState  `json:"state"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at" badgerholdIndex:"StartedAt"`
	FinishedAt time.Time `json:"finished_at"`
}

// StoredRecord is a ReportRecord with its position in the aggregate collection
type StoredRecord struct {
	Seq    int          `json:"seq" badgerholdIndex:"Seq"`
	RunID  string       `json:"run_id"`
	URL    string       `json:"url"` // Report page, kept so the record can be refreshed after a restart
	Record ReportRecord `json:"record"`
}

// Link returns the report link the record was extracted from
func (s StoredRecord) Link() ReportLink {
	return ReportLink{ID: s.Record.ID, URL: s.URL}
}

// RecordEvent is the payload of record_updated and record_removed events
type RecordEvent struct {
	RunID  string       `json:"run_id"`
	Index  int          `json:"index"` // Position in the aggregate, -1 when removed
	Record ReportRecord `json:"record"`
}
