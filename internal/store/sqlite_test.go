package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportlens/supportlens/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedSlug(t *testing.T, st *SQLiteStore, key string, ticketCount int) model.Slug {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	slug, err := st.UpsertSlug(context.Background(), model.Slug{
		Slug:        key,
		TicketCount: ticketCount,
		FirstSeen:   now.Add(-24 * time.Hour),
		LastSeen:    now,
	})
	require.NoError(t, err)
	return *slug
}

func seedRecommendation(t *testing.T, st *SQLiteStore, slug string, priority model.Priority, confidence float64) model.RecommendationDetail {
	t.Helper()
	detail := model.RecommendationDetail{
		Recommendation: model.Recommendation{
			RecommendationID: uuid.New().String(),
			Slug:             slug,
			Title:            "Document " + slug,
			Status:           "draft",
			Priority:         priority,
			ConfidenceScore:  confidence,
			CreatedAt:        time.Now().UTC(),
		},
	}
	require.NoError(t, st.CreateRecommendation(context.Background(), &detail))
	return detail
}

// --- Slugs ---

func TestSQLite_UpsertSlug_TicketCountOnlyGrows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first, err := st.UpsertSlug(ctx, model.Slug{
		Slug: "password-reset", TicketCount: 10,
		FirstSeen: now.Add(-time.Hour), LastSeen: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, first.TicketCount)

	// A stale upsert with a lower count must not shrink the counter.
	second, err := st.UpsertSlug(ctx, model.Slug{
		Slug: "password-reset", TicketCount: 7,
		FirstSeen: now.Add(-time.Hour), LastSeen: now.Add(-30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, second.TicketCount)
	assert.WithinDuration(t, now, second.LastSeen, time.Second)

	third, err := st.UpsertSlug(ctx, model.Slug{
		Slug: "password-reset", TicketCount: 15,
		FirstSeen: now.Add(-time.Hour), LastSeen: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 15, third.TicketCount)
}

func TestSQLite_UpsertSlug_PreservesMatchPayload(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	matched := true
	slug, err := st.UpsertSlug(ctx, model.Slug{
		Slug:             "sso-saml-login",
		TicketCount:      3,
		Match:            &matched,
		MatchedDocuments: model.NewPayload(json.RawMessage(`{"docs":["sso.md"]}`)),
		FirstSeen:        now,
		LastSeen:         now,
	})
	require.NoError(t, err)
	require.NotNil(t, slug.Match)
	assert.True(t, *slug.Match)
	require.True(t, slug.MatchedDocuments.Valid)
	assert.JSONEq(t, `{"docs":["sso.md"]}`, string(slug.MatchedDocuments.Raw))
}

func TestSQLite_GetSlug_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetSlug(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- SlugWithStats aggregates ---

func TestSQLite_SlugStats_DerivedFromRecommendations(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "billing-overcharge", 20)
	seedRecommendation(t, st, "billing-overcharge", model.PriorityHigh, 0.9)
	seedRecommendation(t, st, "billing-overcharge", model.PriorityHigh, 0.7)
	seedRecommendation(t, st, "billing-overcharge", model.PriorityLow, 0.5)

	sw, err := st.GetSlugWithStats(ctx, "billing-overcharge")
	require.NoError(t, err)
	assert.Equal(t, 3, sw.RecommendationCount)
	assert.Equal(t, 2, sw.HighPriorityCount)
	assert.Equal(t, 0, sw.MediumPriorityCount)
	assert.Equal(t, 1, sw.LowPriorityCount)
	assert.LessOrEqual(t, sw.HighPriorityCount+sw.MediumPriorityCount+sw.LowPriorityCount, sw.RecommendationCount)
	require.NotNil(t, sw.AvgConfidence)
	assert.InDelta(t, 0.7, *sw.AvgConfidence, 1e-9)
	assert.Nil(t, sw.AnalysisStatus) // no scan has run yet
}

func TestSQLite_SlugStats_EmptySlug(t *testing.T) {
	st := newTestSQLiteStore(t)

	seedSlug(t, st, "empty-cluster", 1)
	sw, err := st.GetSlugWithStats(context.Background(), "empty-cluster")
	require.NoError(t, err)
	assert.Zero(t, sw.RecommendationCount)
	assert.Zero(t, sw.TotalSections)
	assert.Zero(t, sw.TotalTicketsAnalyzed)
	assert.Nil(t, sw.AvgConfidence)
	assert.Nil(t, sw.AnalysisStatus)
}

func TestSQLite_SlugStats_ReflectLatestProgress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "export-failures", 12)

	p, err := st.CreateProgress(ctx, "export-failures")
	require.NoError(t, err)
	total := 12
	require.NoError(t, st.StartProgress(ctx, p.ID, &total))
	require.NoError(t, st.RecordTicket(ctx, p.ID, 101))
	require.NoError(t, st.RecordTicket(ctx, p.ID, 102))

	sw, err := st.GetSlugWithStats(ctx, "export-failures")
	require.NoError(t, err)
	assert.Equal(t, 2, sw.TotalTicketsAnalyzed)
	require.NotNil(t, sw.AnalysisStatus)
	assert.Equal(t, model.RunStatusRunning, *sw.AnalysisStatus)
}

func TestSQLite_ListSlugsWithStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "slug-a", 5)
	seedSlug(t, st, "slug-b", 8)
	seedRecommendation(t, st, "slug-a", model.PriorityMedium, 0.6)

	all, err := st.ListSlugsWithStats(ctx, SlugFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	byKey := map[string]model.SlugWithStats{}
	for _, sw := range all {
		byKey[sw.Slug.Slug] = sw
	}
	assert.Equal(t, 1, byKey["slug-a"].RecommendationCount)
	assert.Equal(t, 0, byKey["slug-b"].RecommendationCount)
}

// --- Recommendations ---

func TestSQLite_CreateRecommendation_RejectsDanglingSlug(t *testing.T) {
	st := newTestSQLiteStore(t)

	detail := model.RecommendationDetail{
		Recommendation: model.Recommendation{
			RecommendationID: uuid.New().String(),
			Slug:             "no-such-slug",
			Title:            "Orphan",
			Status:           "draft",
			Priority:         model.PriorityLow,
			ConfidenceScore:  0.4,
			CreatedAt:        time.Now().UTC(),
		},
	}
	err := st.CreateRecommendation(context.Background(), &detail)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrForeignKey))
}

func TestSQLite_RecommendationDetail_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "password-reset", 30)

	howTo := "how_to"
	rel := 0.85
	pattern := "users locked out after expiry"
	detail := model.RecommendationDetail{
		Recommendation: model.Recommendation{
			RecommendationID:   uuid.New().String(),
			Slug:               "password-reset",
			Title:              "Self-service reset guide",
			Status:             "draft",
			Priority:           model.PriorityHigh,
			ConfidenceScore:    0.88,
			TicketPattern:      &pattern,
			Keywords:           []string{"password", "reset", "lockout"},
			AffectedUserGroups: []string{"admins", "end-users"},
			SuccessCriteria:    model.NewPayload(json.RawMessage(`{"deflection_target":0.3}`)),
			CreatedAt:          time.Now().UTC().Truncate(time.Second),
		},
		Sections: []model.Section{
			{SectionNumber: 2, SectionTitle: "Step-by-step", SectionType: &howTo, ContentOutline: "reset steps"},
			{SectionNumber: 1, SectionTitle: "Overview", ContentOutline: "why lockouts happen"},
		},
		SourceTickets: []model.SourceTicket{
			{TicketID: 1001, RelevanceScore: &rel},
			{TicketID: 1002},
		},
	}
	require.NoError(t, st.CreateRecommendation(ctx, &detail))

	got, err := st.GetRecommendationDetail(ctx, detail.RecommendationID)
	require.NoError(t, err)
	assert.Equal(t, "Self-service reset guide", got.Title)
	assert.Equal(t, []string{"password", "reset", "lockout"}, got.Keywords)
	require.NotNil(t, got.TicketPattern)
	assert.Equal(t, pattern, *got.TicketPattern)
	require.True(t, got.SuccessCriteria.Valid)
	assert.JSONEq(t, `{"deflection_target":0.3}`, string(got.SuccessCriteria.Raw))

	// Sections come back ordered by section_number regardless of insert order.
	require.Len(t, got.Sections, 2)
	assert.Equal(t, 1, got.Sections[0].SectionNumber)
	assert.Equal(t, 2, got.Sections[1].SectionNumber)

	require.Len(t, got.SourceTickets, 2)
	assert.Equal(t, int64(1001), got.SourceTickets[0].TicketID)
	require.NotNil(t, got.SourceTickets[0].RelevanceScore)
	assert.InDelta(t, 0.85, *got.SourceTickets[0].RelevanceScore, 1e-9)
	assert.Nil(t, got.SourceTickets[1].RelevanceScore)
}

func TestSQLite_AddSection_DuplicateNumberRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "slug-x", 2)
	rec := seedRecommendation(t, st, "slug-x", model.PriorityMedium, 0.5)

	require.NoError(t, st.AddSection(ctx, rec.RecommendationID, model.Section{
		SectionNumber: 1, SectionTitle: "Intro", ContentOutline: "a",
	}))
	err := st.AddSection(ctx, rec.RecommendationID, model.Section{
		SectionNumber: 1, SectionTitle: "Duplicate", ContentOutline: "b",
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConflict))
}

func TestSQLite_SourceTicket_SharedAcrossRecommendations(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "slug-y", 4)
	recA := seedRecommendation(t, st, "slug-y", model.PriorityLow, 0.3)
	recB := seedRecommendation(t, st, "slug-y", model.PriorityHigh, 0.9)

	// The same ticket may be evidence for two different recommendations.
	require.NoError(t, st.AddSourceTicket(ctx, recA.RecommendationID, model.SourceTicket{TicketID: 555}))
	require.NoError(t, st.AddSourceTicket(ctx, recB.RecommendationID, model.SourceTicket{TicketID: 555}))

	// But not twice for the same recommendation.
	err := st.AddSourceTicket(ctx, recA.RecommendationID, model.SourceTicket{TicketID: 555})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConflict))
}

func TestSQLite_DeleteRecommendation_Cascades(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "slug-z", 6)
	rec := seedRecommendation(t, st, "slug-z", model.PriorityHigh, 0.7)
	require.NoError(t, st.AddSection(ctx, rec.RecommendationID, model.Section{
		SectionNumber: 1, SectionTitle: "Intro", ContentOutline: "a",
	}))
	require.NoError(t, st.AddSourceTicket(ctx, rec.RecommendationID, model.SourceTicket{TicketID: 7}))

	require.NoError(t, st.DeleteRecommendation(ctx, rec.RecommendationID))

	_, err := st.GetRecommendationDetail(ctx, rec.RecommendationID)
	assert.True(t, eris.Is(err, ErrNotFound))

	sw, err := st.GetSlugWithStats(ctx, "slug-z")
	require.NoError(t, err)
	assert.Zero(t, sw.RecommendationCount)
	assert.Zero(t, sw.TotalSections)
}

// --- Analysis progress state machine ---

func TestSQLite_Progress_SecondActiveRunConflicts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "dup-run", 3)

	first, err := st.CreateProgress(ctx, "dup-run")
	require.NoError(t, err)

	_, err = st.CreateProgress(ctx, "dup-run")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConflict))

	// Existing record untouched by the rejected attempt.
	got, err := st.GetProgress(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, got.Status)
	assert.Zero(t, got.TicketsAnalyzed)
}

func TestSQLite_Progress_NewRunAllowedAfterTerminal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "retry-run", 3)

	p1, err := st.CreateProgress(ctx, "retry-run")
	require.NoError(t, err)
	total := 0
	require.NoError(t, st.StartProgress(ctx, p1.ID, &total))
	require.NoError(t, st.CompleteProgress(ctx, p1.ID))

	p2, err := st.CreateProgress(ctx, "retry-run")
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, p2.ID)

	// History is preserved: the completed record is still there.
	runs, err := st.ListProgress(ctx, ProgressFilter{Slug: "retry-run"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLite_Progress_CreateRejectsUnknownSlug(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.CreateProgress(context.Background(), "ghost-slug")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrForeignKey))
}

func TestSQLite_Progress_FullRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "full-run", 3)

	p, err := st.CreateProgress(ctx, "full-run")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, p.Status)

	total := 3
	require.NoError(t, st.StartProgress(ctx, p.ID, &total))

	for i, ticketID := range []int64{11, 12, 13} {
		require.NoError(t, st.RecordTicket(ctx, p.ID, ticketID))
		require.NoError(t, st.RecordKBSearch(ctx, p.ID))

		got, err := st.GetProgress(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, got.TicketsAnalyzed)
		require.NotNil(t, got.LastTicketID)
		assert.Equal(t, ticketID, *got.LastTicketID)
	}

	require.NoError(t, st.CompleteProgress(ctx, p.ID))

	final, err := st.GetProgress(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, final.Status)
	assert.Equal(t, 3, final.TicketsAnalyzed)
	assert.Equal(t, 3, final.KBSearchesPerformed)
	assert.NotNil(t, final.CompletedAt)
	assert.Nil(t, final.ErrorMessage)
	require.NoError(t, final.Validate())
}

func TestSQLite_Progress_CounterNeverExceedsTotal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "bounded-run", 2)

	p, err := st.CreateProgress(ctx, "bounded-run")
	require.NoError(t, err)
	total := 2
	require.NoError(t, st.StartProgress(ctx, p.ID, &total))
	require.NoError(t, st.RecordTicket(ctx, p.ID, 1))
	require.NoError(t, st.RecordTicket(ctx, p.ID, 2))

	// A third increment would exceed total_tickets and must be refused.
	err = st.RecordTicket(ctx, p.ID, 3)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	got, err := st.GetProgress(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TicketsAnalyzed)
	require.NotNil(t, got.LastTicketID)
	assert.Equal(t, int64(2), *got.LastTicketID)
}

func TestSQLite_Progress_UnknownTotalThenSet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "lazy-total", 10)

	p, err := st.CreateProgress(ctx, "lazy-total")
	require.NoError(t, err)
	require.NoError(t, st.StartProgress(ctx, p.ID, nil))

	// Unknown total: counting is unconstrained.
	require.NoError(t, st.RecordTicket(ctx, p.ID, 1))
	require.NoError(t, st.RecordTicket(ctx, p.ID, 2))

	require.NoError(t, st.SetTotalTickets(ctx, p.ID, 5))

	got, err := st.GetProgress(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TotalTickets)
	assert.Equal(t, 5, *got.TotalTickets)

	// Setting a total below what was already analyzed is refused.
	err = st.SetTotalTickets(ctx, p.ID, 1)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
}

func TestSQLite_Progress_FailPreservesPartialProgress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "partial-fail", 10)

	p, err := st.CreateProgress(ctx, "partial-fail")
	require.NoError(t, err)
	total := 10
	require.NoError(t, st.StartProgress(ctx, p.ID, &total))
	for _, id := range []int64{21, 22, 23} {
		require.NoError(t, st.RecordTicket(ctx, p.ID, id))
	}

	require.NoError(t, st.FailProgress(ctx, p.ID, "upstream search backend returned 503"))

	got, err := st.GetProgress(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, 3, got.TicketsAnalyzed)
	require.NotNil(t, got.LastTicketID)
	assert.Equal(t, int64(23), *got.LastTicketID)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "503")
	assert.NotNil(t, got.CompletedAt)
	require.NoError(t, got.Validate())
}

func TestSQLite_Progress_TerminalStatesAreFrozen(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "frozen", 1)

	p, err := st.CreateProgress(ctx, "frozen")
	require.NoError(t, err)
	total := 1
	require.NoError(t, st.StartProgress(ctx, p.ID, &total))
	require.NoError(t, st.RecordTicket(ctx, p.ID, 9))
	require.NoError(t, st.CompleteProgress(ctx, p.ID))

	for name, op := range map[string]func() error{
		"complete again": func() error { return st.CompleteProgress(ctx, p.ID) },
		"fail":           func() error { return st.FailProgress(ctx, p.ID, "late") },
		"record ticket":  func() error { return st.RecordTicket(ctx, p.ID, 10) },
		"record search":  func() error { return st.RecordKBSearch(ctx, p.ID) },
		"restart":        func() error { return st.StartProgress(ctx, p.ID, &total) },
	} {
		err := op()
		require.Error(t, err, name)
		assert.True(t, eris.Is(err, ErrInvalidTransition), name)
	}
}

func TestSQLite_Progress_ActiveAndLatestLookups(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "lookups", 2)

	_, err := st.GetActiveProgress(ctx, "lookups")
	assert.True(t, eris.Is(err, ErrNotFound))

	p1, err := st.CreateProgress(ctx, "lookups")
	require.NoError(t, err)

	active, err := st.GetActiveProgress(ctx, "lookups")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, active.ID)

	total := 0
	require.NoError(t, st.StartProgress(ctx, p1.ID, &total))
	require.NoError(t, st.CompleteProgress(ctx, p1.ID))

	_, err = st.GetActiveProgress(ctx, "lookups")
	assert.True(t, eris.Is(err, ErrNotFound))

	latest, err := st.LatestProgress(ctx, "lookups")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, latest.ID)
	assert.Equal(t, model.RunStatusCompleted, latest.Status)
}

func TestSQLite_ListProgress_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSlug(t, st, "filter-a", 1)
	seedSlug(t, st, "filter-b", 1)

	pa, err := st.CreateProgress(ctx, "filter-a")
	require.NoError(t, err)
	total := 0
	require.NoError(t, st.StartProgress(ctx, pa.ID, &total))
	require.NoError(t, st.CompleteProgress(ctx, pa.ID))

	_, err = st.CreateProgress(ctx, "filter-b")
	require.NoError(t, err)

	completed, err := st.ListProgress(ctx, ProgressFilter{Status: model.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "filter-a", completed[0].Slug)

	bySlug, err := st.ListProgress(ctx, ProgressFilter{Slug: "filter-b"})
	require.NoError(t, err)
	require.Len(t, bySlug, 1)
	assert.Equal(t, model.RunStatusPending, bySlug[0].Status)
}
