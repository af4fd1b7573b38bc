package models

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// attemptCounter separates tasks built for the same report in the same millisecond
var attemptCounter atomic.Uint64

// ExtractionTask is one dispatched extraction attempt for a report
type ExtractionTask struct {
	CorrelationID string     `json:"correlationId"`
	Link          ReportLink `json:"link"`
	SequenceIndex int        `json:"sequenceIndex"`
	Total         int        `json:"total"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// NewExtractionTask builds a task whose correlation id is unique per attempt:
// <unix-millis>_<index>_<alphanumeric report id>_<attempt>
func NewExtractionTask(link ReportLink, index, total int, now time.Time) ExtractionTask {
	attempt := attemptCounter.Add(1)
	return ExtractionTask{
		CorrelationID: fmt.Sprintf("%d_%d_%s_%d", now.UnixMilli(), index, alphanumeric(link.ID), attempt),
		Link:          link,
		SequenceIndex: index,
		Total:         total,
		CreatedAt:     now,
	}
}

func alphanumeric(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, s)
}
