package analyst

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportlens/supportlens/internal/model"
)

// fakeClient returns a fixed response and records the last request.
type fakeClient struct {
	resp    *MessageResponse
	err     error
	lastReq MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req MessageRequest) (*MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func textResponse(text string) *MessageResponse {
	return &MessageResponse{
		ID:      "msg_test",
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func sampleTickets() []model.Ticket {
	return []model.Ticket{
		{TicketID: 101, Subject: "Cannot reset password", Body: "Reset email never arrives.", Tags: []string{"auth"}, CreatedAt: time.Now()},
		{TicketID: 102, Subject: "Password reset link expired", Body: "Link dead after one hour.", CreatedAt: time.Now()},
	}
}

const sampleReply = `{
  "recommendations": [
    {
      "title": "Document the password reset flow",
      "priority": "high",
      "confidence_score": 0.85,
      "ticket_pattern": "reset email delivery",
      "frequency_data": {"ticket_count": 14, "tickets_per_month": 4.5, "trend": "rising"},
      "affected_user_groups": ["end users"],
      "keywords": ["password", "reset"],
      "related_slugs": ["email-delivery"],
      "analyst_notes": null,
      "sections": [
        {"section_number": 2, "section_title": "Troubleshooting", "section_type": "howto", "content_outline": "Common failure modes.", "estimated_time": "10m"},
        {"section_number": 1, "section_title": "Overview", "section_type": "concept", "content_outline": "What the reset flow does.", "estimated_time": "5m"}
      ],
      "source_tickets": [
        {"ticket_id": 101, "contribution_type": "primary", "relevance_score": 0.9, "notes": null},
        {"ticket_id": 102, "contribution_type": "supporting", "relevance_score": 0.6, "notes": "expiry variant"}
      ]
    }
  ],
  "kb_queries": ["password reset email deliverability"]
}`

func TestAnalyze_ParsesDrafts(t *testing.T) {
	client := &fakeClient{resp: textResponse(sampleReply)}
	a := New(client, "claude-sonnet-4-5-20250929", 8192)

	result, err := a.Analyze(context.Background(), Request{
		Slug:    "password-reset",
		Tickets: sampleTickets(),
	})
	require.NoError(t, err)
	require.Len(t, result.Recommendations, 1)

	rec := result.Recommendations[0]
	assert.Equal(t, "password-reset", rec.Slug)
	assert.Equal(t, "Document the password reset flow", rec.Title)
	assert.Equal(t, model.PriorityHigh, rec.Priority)
	assert.InDelta(t, 0.85, rec.ConfidenceScore, 0.001)
	require.NotNil(t, rec.FrequencyData)
	require.NotNil(t, rec.FrequencyData.TicketCount)
	assert.Equal(t, 14, *rec.FrequencyData.TicketCount)

	// Sections come back ordered regardless of reply order.
	require.Len(t, rec.Sections, 2)
	assert.Equal(t, 1, rec.Sections[0].SectionNumber)
	assert.Equal(t, "Overview", rec.Sections[0].SectionTitle)
	assert.Equal(t, 2, rec.Sections[1].SectionNumber)

	require.Len(t, rec.SourceTickets, 2)
	assert.Equal(t, int64(101), rec.SourceTickets[0].TicketID)
	require.NotNil(t, rec.SourceTickets[0].RelevanceScore)
	assert.InDelta(t, 0.9, *rec.SourceTickets[0].RelevanceScore, 0.001)

	assert.Equal(t, []string{"password reset email deliverability"}, result.KBQueries)
}

func TestAnalyze_PromptIncludesTicketsAndKB(t *testing.T) {
	client := &fakeClient{resp: textResponse(`{"recommendations": [], "kb_queries": []}`)}
	a := New(client, "claude-sonnet-4-5-20250929", 8192)

	_, err := a.Analyze(context.Background(), Request{
		Slug:    "password-reset",
		Tickets: sampleTickets(),
		KBContext: []model.KBDocument{
			{Title: "Resetting your password", URL: "https://kb.example.com/reset", Snippet: "Step by step."},
		},
	})
	require.NoError(t, err)

	require.Len(t, client.lastReq.Messages, 1)
	prompt := client.lastReq.Messages[0].Content
	assert.Contains(t, prompt, "password-reset")
	assert.Contains(t, prompt, "[ticket 101]")
	assert.Contains(t, prompt, "[ticket 102]")
	assert.Contains(t, prompt, "tags: auth")
	assert.Contains(t, prompt, "Resetting your password")
	assert.NotEmpty(t, client.lastReq.System)
}

func TestAnalyze_CodeFencedReply(t *testing.T) {
	client := &fakeClient{resp: textResponse("```json\n" + sampleReply + "\n```")}
	a := New(client, "claude-sonnet-4-5-20250929", 8192)

	result, err := a.Analyze(context.Background(), Request{Slug: "password-reset", Tickets: sampleTickets()})
	require.NoError(t, err)
	assert.Len(t, result.Recommendations, 1)
}

func TestAnalyze_NoTicketsShortCircuits(t *testing.T) {
	client := &fakeClient{err: eris.New("should not be called")}
	a := New(client, "claude-sonnet-4-5-20250929", 8192)

	result, err := a.Analyze(context.Background(), Request{Slug: "quiet-slug"})
	require.NoError(t, err)
	assert.Empty(t, result.Recommendations)
}

func TestAnalyze_MalformedReply(t *testing.T) {
	client := &fakeClient{resp: textResponse("I could not find any patterns, sorry!")}
	a := New(client, "claude-sonnet-4-5-20250929", 8192)

	_, err := a.Analyze(context.Background(), Request{Slug: "password-reset", Tickets: sampleTickets()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestAnalyze_InvalidPriorityRejected(t *testing.T) {
	reply := `{"recommendations": [{"title": "X", "priority": "urgent", "confidence_score": 0.5}]}`
	client := &fakeClient{resp: textResponse(reply)}
	a := New(client, "claude-sonnet-4-5-20250929", 8192)

	_, err := a.Analyze(context.Background(), Request{Slug: "password-reset", Tickets: sampleTickets()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "urgent")
}

func TestAnalyze_EmptyResponse(t *testing.T) {
	client := &fakeClient{resp: &MessageResponse{ID: "msg_empty"}}
	a := New(client, "claude-sonnet-4-5-20250929", 8192)

	_, err := a.Analyze(context.Background(), Request{Slug: "password-reset", Tickets: sampleTickets()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestCleanJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", "Here you go:\n{\"a\":1}\nHope that helps.", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanJSON(tc.in))
		})
	}
}

func TestStaticStampsSlug(t *testing.T) {
	s := &Static{Result: Result{
		Recommendations: []model.RecommendationDetail{
			StaticDraft("Document the thing", model.PriorityMedium, 0.7, 5, 6),
		},
	}}

	result, err := s.Analyze(context.Background(), Request{Slug: "export-csv"})
	require.NoError(t, err)
	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, "export-csv", result.Recommendations[0].Slug)
	assert.Len(t, result.Recommendations[0].SourceTickets, 2)
}
