package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Slug is a recurring ticket cluster identified by a normalized string key.
type Slug struct {
	Slug             string     `json:"slug"`
	TicketCount      int        `json:"ticket_count"`
	Match            *bool      `json:"match"`
	MatchedDocuments Payload    `json:"matched_documents"`
	MatchedSearch    *string    `json:"matched_search"`
	LastMatched      *time.Time `json:"last_matched"`
	FirstSeen        time.Time  `json:"first_seen"`
	LastSeen         time.Time  `json:"last_seen"`
}

// Validate checks the slug's internal consistency.
func (s *Slug) Validate() error {
	if s.Slug == "" {
		return eris.New("slug key is empty")
	}
	if s.TicketCount < 0 {
		return eris.Errorf("slug %s: negative ticket count %d", s.Slug, s.TicketCount)
	}
	if s.LastSeen.Before(s.FirstSeen) {
		return eris.Errorf("slug %s: last_seen precedes first_seen", s.Slug)
	}
	return nil
}

var slugFolder = cases.Fold()

// NormalizeSlug reduces a raw cluster key to its canonical form: NFKC
// normalized, case-folded, with runs of whitespace and punctuation collapsed
// to single hyphens. Two tickets land in the same cluster iff their keys
// normalize identically.
func NormalizeSlug(raw string) string {
	folded := slugFolder.String(norm.NFKC.String(raw))
	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		} else {
			pendingSep = true
		}
	}
	return b.String()
}

// SlugWithStats is a Slug enriched with aggregates derived from its
// recommendations and analysis progress. It is always computed on read and
// never persisted as authored data.
type SlugWithStats struct {
	Slug

	RecommendationCount  int        `json:"recommendation_count"`
	HighPriorityCount    int        `json:"high_priority_count"`
	MediumPriorityCount  int        `json:"medium_priority_count"`
	LowPriorityCount     int        `json:"low_priority_count"`
	TotalSections        int        `json:"total_sections"`
	TotalTicketsAnalyzed int        `json:"total_tickets_analyzed"`
	AnalysisStatus       *RunStatus `json:"analysis_status"`
	AvgConfidence        *float64   `json:"avg_confidence"`
}
