package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// AnalysisProgress is the run-state record for a background scan of one
// slug's tickets. At most one non-terminal record may exist per slug; the
// tracker is the only writer. Terminal records are immutable history.
type AnalysisProgress struct {
	ID                  string     `json:"id"`
	Slug                string     `json:"slug"`
	TotalTickets        *int       `json:"total_tickets"`
	TicketsAnalyzed     int        `json:"tickets_analyzed"`
	LastTicketID        *int64     `json:"last_ticket_id"`
	KBSearchesPerformed int        `json:"kb_searches_performed"`
	Status              RunStatus  `json:"status"`
	StartedAt           *time.Time `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	ErrorMessage        *string    `json:"error_message"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Active reports whether the run is still in flight.
func (p *AnalysisProgress) Active() bool {
	return !p.Status.Terminal()
}

// Validate checks the record's counter and timestamp invariants.
func (p *AnalysisProgress) Validate() error {
	if p.Slug == "" {
		return eris.New("progress: slug is empty")
	}
	if !p.Status.Valid() {
		return eris.Errorf("progress %s: invalid status %q", p.ID, p.Status)
	}
	if p.TicketsAnalyzed < 0 || p.KBSearchesPerformed < 0 {
		return eris.Errorf("progress %s: negative counter", p.ID)
	}
	if p.TotalTickets != nil {
		if *p.TotalTickets < 0 {
			return eris.Errorf("progress %s: negative total_tickets", p.ID)
		}
		if p.TicketsAnalyzed > *p.TotalTickets {
			return eris.Errorf("progress %s: tickets_analyzed %d exceeds total %d", p.ID, p.TicketsAnalyzed, *p.TotalTickets)
		}
	}
	if p.Status == RunStatusFailed && p.ErrorMessage == nil {
		return eris.Errorf("progress %s: failed without error_message", p.ID)
	}
	if p.Status == RunStatusCompleted && p.ErrorMessage != nil {
		return eris.Errorf("progress %s: completed with error_message", p.ID)
	}
	if p.Status.Terminal() && p.CompletedAt == nil {
		return eris.Errorf("progress %s: terminal without completed_at", p.ID)
	}
	return nil
}
