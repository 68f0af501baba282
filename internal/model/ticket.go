package model

import "time"

// Ticket is a raw support ticket as delivered by the upstream ticket backend.
// Tickets are analyzed in flight and never persisted here; only their IDs
// survive as SourceTicket evidence links.
type Ticket struct {
	TicketID  int64     `json:"ticket_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Requester *string   `json:"requester"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// KBDocument is a knowledge-base search hit from the upstream search backend.
type KBDocument struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}
