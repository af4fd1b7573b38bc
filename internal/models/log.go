package models

// RunLogEntry is one persisted log line from an extraction run.
//
// Timestamp is "15:04:05" for display; FullTimestamp is RFC3339Nano for sorting.
// Seq increases across runs and restarts, giving a stable order when timestamps collide.
// Levels are "debug", "info", "warn", "error".
type RunLogEntry struct {
	RunID         string `json:"run_id" badgerholdIndex:"RunID"`
	Seq           int64  `json:"seq"`
	Timestamp     string `json:"timestamp"`
	FullTimestamp string `json:"full_timestamp"`
	Level         string `json:"level"`
	Message       string `json:"message"`
	ReportID      string `json:"report_id,omitempty"` // Set when the line concerns a single report
}
