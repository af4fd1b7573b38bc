package models

import "strings"

// NotFound marks a field whose value could not be located on the report page.
// It is data, not an error: the run continues and the value is exported as-is.
const NotFound = "Not found"

// Session failure reasons recorded on ReportRecord.Error
const (
	ErrorTimeout     = "timeout"
	ErrorClosedEarly = "closed before extraction"
	ErrorOpenFailed  = "window failed to open"
	ErrorParseFailed = "report page could not be parsed"
)

// EnvelopeTypeReport tags an extraction result envelope
const EnvelopeTypeReport = "EXTRACTION_RESULT"

// ReportLink is a single report discovered on the listing page
type ReportLink struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ReportRecord is the outcome of one extraction attempt.
// A failed attempt carries Error and best-effort (possibly empty) fields.
type ReportRecord struct {
	ID         string `json:"id"`
	RaisedDate string `json:"raisedDate"`
	StageOwner string `json:"stageOwner"`
	TargetDate string `json:"targetDate"`
	Status     string `json:"status"`
	Remarks    string `json:"remarks,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the record represents a failed extraction
func (r ReportRecord) Failed() bool {
	return r.Error != ""
}

// HasData reports whether at least one scraped field holds a real value.
// ID and Remarks are not scraped from the page body and do not count.
func (r ReportRecord) HasData() bool {
	for _, v := range []string{r.RaisedDate, r.StageOwner, r.TargetDate, r.Status} {
		v = strings.TrimSpace(v)
		if v != "" && v != NotFound {
			return true
		}
	}
	return false
}

// FailedRecord builds an error-bearing record for a report
func FailedRecord(id, reason string) ReportRecord {
	return ReportRecord{ID: id, Error: reason}
}

// Envelope is the message a report window sends back to the orchestrator.
// Only Type, CorrelationID and Record are load-bearing.
type Envelope struct {
	Type          string       `json:"type"`
	CorrelationID string       `json:"correlationId"`
	Record        ReportRecord `json:"record"`
}

// NewEnvelope wraps a record for delivery under the given correlation id
func NewEnvelope(correlationID string, record ReportRecord) Envelope {
	return Envelope{
		Type:          EnvelopeTypeReport,
		CorrelationID: correlationID,
		Record:        record,
	}
}
