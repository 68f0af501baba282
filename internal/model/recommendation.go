package model

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// Recommendation is a proposed documentation or product action derived from
// analyzing a slug's tickets.
type Recommendation struct {
	RecommendationID   string         `json:"recommendation_id"`
	Slug               string         `json:"slug"`
	Title              string         `json:"title"`
	Status             string         `json:"status"`
	Priority           Priority       `json:"priority"`
	ConfidenceScore    float64        `json:"confidence_score"`
	TicketPattern      *string        `json:"ticket_pattern"`
	FrequencyData      *FrequencyData `json:"frequency_data"`
	AffectedUserGroups []string       `json:"affected_user_groups"`
	Keywords           []string       `json:"keywords"`
	RelatedSlugs       []string       `json:"related_slugs"`
	SuccessCriteria    Payload        `json:"success_criteria"`
	AnalystNotes       *string        `json:"analyst_notes"`
	CreatedAt          time.Time      `json:"created_at"`
	LastAnalyzed       *time.Time     `json:"last_analyzed"`
}

// FrequencyData summarizes how often the underlying issue recurs.
type FrequencyData struct {
	TicketCount     *int     `json:"ticket_count,omitempty"`
	TicketsPerMonth *float64 `json:"tickets_per_month,omitempty"`
	Trend           *string  `json:"trend,omitempty"`
}

// Validate checks field constraints before the recommendation is persisted.
func (r *Recommendation) Validate() error {
	if r.Slug == "" {
		return eris.New("recommendation: slug is empty")
	}
	if r.Title == "" {
		return eris.Errorf("recommendation for %s: title is empty", r.Slug)
	}
	if !r.Priority.Valid() {
		return eris.Errorf("recommendation for %s: invalid priority %q", r.Slug, r.Priority)
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return eris.Errorf("recommendation for %s: confidence %g outside [0,1]", r.Slug, r.ConfidenceScore)
	}
	if r.LastAnalyzed != nil && r.LastAnalyzed.Before(r.CreatedAt) {
		return eris.Errorf("recommendation for %s: last_analyzed precedes created_at", r.Slug)
	}
	return nil
}

// Section is one ordered entry in a recommendation's documentation outline.
// SectionNumber defines a total order within its recommendation.
type Section struct {
	SectionID      string  `json:"section_id"`
	SectionNumber  int     `json:"section_number"`
	SectionTitle   string  `json:"section_title"`
	SectionType    *string `json:"section_type"`
	ContentOutline string  `json:"content_outline"`
	SourceInfo     *string `json:"source_info"`
	EstimatedTime  *string `json:"estimated_time"`
}

// SourceTicket is an evidence link from a raw ticket to a recommendation.
// One ticket may contribute to any number of recommendations.
type SourceTicket struct {
	TicketID         int64    `json:"ticket_id"`
	ContributionType *string  `json:"contribution_type"`
	RelevanceScore   *float64 `json:"relevance_score"`
	Notes            *string  `json:"notes"`
}

// RecommendationDetail is a recommendation together with its ordered sections
// and source-ticket evidence. The detail owns its sections and ticket links:
// deleting the recommendation deletes them too.
type RecommendationDetail struct {
	Recommendation

	Sections      []Section      `json:"sections"`
	SourceTickets []SourceTicket `json:"source_tickets"`
}

// SortSections orders the detail's sections by section number.
func (d *RecommendationDetail) SortSections() {
	sort.Slice(d.Sections, func(i, j int) bool {
		return d.Sections[i].SectionNumber < d.Sections[j].SectionNumber
	})
}

// Validate checks the detail and the section ordering invariant: section
// numbers must be unique within the recommendation.
func (d *RecommendationDetail) Validate() error {
	if err := d.Recommendation.Validate(); err != nil {
		return err
	}
	seen := make(map[int]bool, len(d.Sections))
	for _, sec := range d.Sections {
		if seen[sec.SectionNumber] {
			return eris.Errorf("recommendation for %s: duplicate section number %d", d.Slug, sec.SectionNumber)
		}
		seen[sec.SectionNumber] = true
	}
	for _, st := range d.SourceTickets {
		if st.RelevanceScore != nil && (*st.RelevanceScore < 0 || *st.RelevanceScore > 1) {
			return eris.Errorf("recommendation for %s: ticket %d relevance %g outside [0,1]", d.Slug, st.TicketID, *st.RelevanceScore)
		}
	}
	return nil
}
