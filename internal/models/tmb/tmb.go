// Package tmb holds the wire models of the TMB distributed ledger gateway.
package tmb

import (
	"encoding/json"
	"time"
)

// Version of the TMB wire protocol this package speaks.
const Version = "1"

// EventSeverity counts processed events per threat level bucket.
type EventSeverity struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// EventSummary aggregates the audited events of one reporting window for
// publication on the ledger.
type EventSummary struct {
	Publisher  string        `json:"publisher"`
	StartDate  time.Time     `json:"startDate"`
	EndDate    time.Time     `json:"endDate"`
	EventTypes []string      `json:"eventTypes"`
	Tags       []string      `json:"tags"`
	Severity   EventSeverity `json:"severity"`
}

const dateLayout = "2006-01-02"

// MarshalJSON serializes the summary with calendar-form dates.
func (s EventSummary) MarshalJSON() ([]byte, error) {
	type alias EventSummary
	return json.Marshal(struct {
		alias
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	}{
		alias:     alias(s),
		StartDate: s.StartDate.Format(dateLayout),
		EndDate:   s.EndDate.Format(dateLayout),
	})
}
