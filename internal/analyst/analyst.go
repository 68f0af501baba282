// Package analyst drafts documentation recommendations from a window of
// support tickets, backed by the Anthropic API. The tracker owns run IDs,
// timestamps and persistence; this package only produces drafts.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/supportlens/supportlens/internal/model"
)

// Request carries everything the analyst needs for one slug scan.
type Request struct {
	Slug      string
	Tickets   []model.Ticket
	KBContext []model.KBDocument
}

// Result is the analyst's draft output for one slug scan.
type Result struct {
	Recommendations []model.RecommendationDetail
	// KBQueries are follow-up knowledge-base searches the analyst suggests;
	// the caller decides whether to perform them.
	KBQueries []string
}

// Analyst turns ticket windows into recommendation drafts.
type Analyst struct {
	client    Client
	model     string
	maxTokens int64
}

// New constructs an Analyst using the given client and model.
func New(client Client, modelID string, maxTokens int) *Analyst {
	return &Analyst{
		client:    client,
		model:     modelID,
		maxTokens: int64(maxTokens),
	}
}

const systemPrompt = `You are a support-documentation analyst. You receive a batch of
support tickets that all cluster under one issue slug, plus optional
knowledge-base context. Draft documentation recommendations for the cluster.

Respond with a single JSON object, no prose, of this shape:
{
  "recommendations": [
    {
      "title": "string",
      "priority": "low|medium|high",
      "confidence_score": 0.0,
      "ticket_pattern": "string or null",
      "frequency_data": {"ticket_count": 0, "tickets_per_month": 0.0, "trend": "rising|stable|declining"},
      "affected_user_groups": ["string"],
      "keywords": ["string"],
      "related_slugs": ["string"],
      "analyst_notes": "string or null",
      "sections": [
        {"section_number": 1, "section_title": "string", "section_type": "string", "content_outline": "string", "estimated_time": "string"}
      ],
      "source_tickets": [
        {"ticket_id": 0, "contribution_type": "string", "relevance_score": 0.0, "notes": "string or null"}
      ]
    }
  ],
  "kb_queries": ["string"]
}

Rules: confidence_score and relevance_score are in [0,1]; section_number is
unique and ascending within a recommendation; cite only ticket IDs that were
provided; keep recommendations specific and actionable.`

// Analyze drafts recommendations for one slug from a batch of tickets.
func (a *Analyst) Analyze(ctx context.Context, req Request) (*Result, error) {
	if len(req.Tickets) == 0 {
		return &Result{}, nil
	}

	resp, err := a.client.CreateMessage(ctx, MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages: []Message{
			{Role: "user", Content: buildUserPrompt(req)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "analyst: analyze %s", req.Slug)
	}
	resp.Usage.LogUsage(a.model, req.Slug)

	text := firstText(resp)
	if text == "" {
		return nil, eris.Errorf("analyst: empty response for %s", req.Slug)
	}

	result, err := parseResult(req.Slug, text)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("analyst drafted recommendations",
		zap.String("slug", req.Slug),
		zap.Int("recommendations", len(result.Recommendations)),
		zap.Int("tickets", len(req.Tickets)),
	)
	return result, nil
}

func buildUserPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue slug: %s\n\n## Tickets (%d)\n", req.Slug, len(req.Tickets))
	for _, t := range req.Tickets {
		fmt.Fprintf(&sb, "\n[ticket %d] %s\n%s\n", t.TicketID, t.Subject, t.Body)
		if len(t.Tags) > 0 {
			fmt.Fprintf(&sb, "tags: %s\n", strings.Join(t.Tags, ", "))
		}
	}
	if len(req.KBContext) > 0 {
		sb.WriteString("\n## Existing knowledge-base articles\n")
		for _, d := range req.KBContext {
			fmt.Fprintf(&sb, "\n- %s (%s)\n  %s\n", d.Title, d.URL, d.Snippet)
		}
	}
	return sb.String()
}

func firstText(resp *MessageResponse) string {
	for _, b := range resp.Content {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			return b.Text
		}
	}
	return ""
}

// Wire shapes for the model's JSON reply. IDs and timestamps are assigned by
// the caller, so drafts carry none.
type resultPayload struct {
	Recommendations []recommendationPayload `json:"recommendations"`
	KBQueries       []string                `json:"kb_queries"`
}

type recommendationPayload struct {
	Title              string                `json:"title"`
	Priority           string                `json:"priority"`
	ConfidenceScore    float64               `json:"confidence_score"`
	TicketPattern      *string               `json:"ticket_pattern"`
	FrequencyData      *model.FrequencyData  `json:"frequency_data"`
	AffectedUserGroups []string              `json:"affected_user_groups"`
	Keywords           []string              `json:"keywords"`
	RelatedSlugs       []string              `json:"related_slugs"`
	AnalystNotes       *string               `json:"analyst_notes"`
	Sections           []sectionPayload      `json:"sections"`
	SourceTickets      []sourceTicketPayload `json:"source_tickets"`
}

type sectionPayload struct {
	SectionNumber  int     `json:"section_number"`
	SectionTitle   string  `json:"section_title"`
	SectionType    *string `json:"section_type"`
	ContentOutline string  `json:"content_outline"`
	EstimatedTime  *string `json:"estimated_time"`
}

type sourceTicketPayload struct {
	TicketID         int64    `json:"ticket_id"`
	ContributionType *string  `json:"contribution_type"`
	RelevanceScore   *float64 `json:"relevance_score"`
	Notes            *string  `json:"notes"`
}

func parseResult(slug, text string) (*Result, error) {
	var payload resultPayload
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrapf(err, "analyst: parse response for %s", slug)
	}

	result := &Result{KBQueries: payload.KBQueries}
	for _, rp := range payload.Recommendations {
		priority, err := model.ParsePriority(rp.Priority)
		if err != nil {
			return nil, eris.Wrapf(err, "analyst: recommendation %q for %s", rp.Title, slug)
		}

		detail := model.RecommendationDetail{
			Recommendation: model.Recommendation{
				Slug:               slug,
				Title:              rp.Title,
				Priority:           priority,
				ConfidenceScore:    rp.ConfidenceScore,
				TicketPattern:      rp.TicketPattern,
				FrequencyData:      rp.FrequencyData,
				AffectedUserGroups: rp.AffectedUserGroups,
				Keywords:           rp.Keywords,
				RelatedSlugs:       rp.RelatedSlugs,
				AnalystNotes:       rp.AnalystNotes,
			},
		}
		for _, sp := range rp.Sections {
			detail.Sections = append(detail.Sections, model.Section{
				SectionNumber:  sp.SectionNumber,
				SectionTitle:   sp.SectionTitle,
				SectionType:    sp.SectionType,
				ContentOutline: sp.ContentOutline,
				EstimatedTime:  sp.EstimatedTime,
			})
		}
		for _, tp := range rp.SourceTickets {
			detail.SourceTickets = append(detail.SourceTickets, model.SourceTicket{
				TicketID:         tp.TicketID,
				ContributionType: tp.ContributionType,
				RelevanceScore:   tp.RelevanceScore,
				Notes:            tp.Notes,
			})
		}
		detail.SortSections()
		result.Recommendations = append(result.Recommendations, detail)
	}
	return result, nil
}

// cleanJSON strips markdown code fences and surrounding prose from a model
// reply, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
