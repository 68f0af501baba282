package analyst

import (
	"context"

	"github.com/supportlens/supportlens/internal/model"
)

// Static is an offline analyst that returns a fixed result for every slug.
// Useful in tests and when running without an API key.
type Static struct {
	Result Result
	Err    error
}

// Analyze returns the canned result with the slug stamped onto each draft.
func (s *Static) Analyze(_ context.Context, req Request) (*Result, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := Result{KBQueries: s.Result.KBQueries}
	for _, d := range s.Result.Recommendations {
		d.Slug = req.Slug
		out.Recommendations = append(out.Recommendations, d)
	}
	return &out, nil
}

// StaticDraft builds a minimal plausible draft for offline use.
func StaticDraft(title string, priority model.Priority, confidence float64, ticketIDs ...int64) model.RecommendationDetail {
	detail := model.RecommendationDetail{
		Recommendation: model.Recommendation{
			Title:           title,
			Priority:        priority,
			ConfidenceScore: confidence,
		},
		Sections: []model.Section{
			{SectionNumber: 1, SectionTitle: "Overview", ContentOutline: "Summarize the issue and its resolution."},
		},
	}
	for _, id := range ticketIDs {
		detail.SourceTickets = append(detail.SourceTickets, model.SourceTicket{TicketID: id})
	}
	return detail
}
