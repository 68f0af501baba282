// Package tracker drives the analysis run state machine: it scans a slug's
// tickets, records progress counter by counter, and persists the drafted
// recommendations. One slug has a single logical writer; different slugs may
// run in parallel.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/supportlens/supportlens/internal/analyst"
	"github.com/supportlens/supportlens/internal/model"
	"github.com/supportlens/supportlens/internal/store"
)

// CancelledMessage is recorded when a run is aborted by context cancellation.
const CancelledMessage = "analysis cancelled"

// maxFollowUpSearches caps the knowledge-base lookups performed for queries
// the analyst suggests.
const maxFollowUpSearches = 5

// TicketSource supplies raw tickets and knowledge-base search results for a
// slug. The tracker treats it as a black box.
type TicketSource interface {
	CountTickets(ctx context.Context, slug string) (int, error)
	Tickets(ctx context.Context, slug string) ([]model.Ticket, error)
	SearchKB(ctx context.Context, slug, query string) ([]model.KBDocument, error)
}

// Analyst drafts recommendations from a window of tickets.
type Analyst interface {
	Analyze(ctx context.Context, req analyst.Request) (*analyst.Result, error)
}

// Tracker owns AnalysisProgress mutation. No other component transitions a
// run's status or touches its counters.
type Tracker struct {
	store   store.Store
	source  TicketSource
	analyst Analyst

	kbLimiter *rate.Limiter

	mu    sync.Mutex
	slugs map[string]*sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithKBSearchRate limits knowledge-base searches per second across all runs.
func WithKBSearchRate(perSecond int) Option {
	return func(t *Tracker) {
		t.kbLimiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
}

// New constructs a Tracker.
func New(st store.Store, source TicketSource, an Analyst, opts ...Option) *Tracker {
	t := &Tracker{
		store:     st,
		source:    source,
		analyst:   an,
		kbLimiter: rate.NewLimiter(rate.Limit(2), 2),
		slugs:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) slugLock(slug string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.slugs[slug]; !ok {
		t.slugs[slug] = &sync.Mutex{}
	}
	return t.slugs[slug]
}

// Run performs a full analysis scan for slug. It creates a fresh progress
// record, walks the ticket set serially, drafts recommendations and marks the
// run completed. Any unrecoverable error marks it failed instead, preserving
// the counters accumulated so far. A second run while one is active is
// rejected with store.ErrConflict.
func (t *Tracker) Run(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	lock := t.slugLock(slug)
	if !lock.TryLock() {
		return nil, eris.Wrapf(store.ErrConflict, "tracker: %s already running in this process", slug)
	}
	defer lock.Unlock()

	prog, err := t.store.CreateProgress(ctx, slug)
	if err != nil {
		return nil, eris.Wrapf(err, "tracker: create run for %s", slug)
	}
	log := zap.L().With(zap.String("slug", slug), zap.String("run_id", prog.ID))

	// Total is unknown until the ticket set is enumerated; become running
	// first so a counting failure can be recorded on the run.
	if err := t.store.StartProgress(ctx, prog.ID, nil); err != nil {
		return nil, eris.Wrapf(err, "tracker: start run for %s", slug)
	}
	log.Info("analysis run started")

	if err := t.scan(ctx, log, prog.ID, slug); err != nil {
		t.fail(ctx, log, prog.ID, err)
		final, getErr := t.store.GetProgress(context.WithoutCancel(ctx), prog.ID)
		if getErr != nil {
			return nil, err
		}
		return final, err
	}

	if err := t.store.CompleteProgress(ctx, prog.ID); err != nil {
		return nil, eris.Wrapf(err, "tracker: complete run for %s", slug)
	}
	log.Info("analysis run completed")
	return t.store.GetProgress(ctx, prog.ID)
}

// Restart begins a new run for a slug whose latest run is terminal. History
// is never mutated in place: a fresh record is created. A slug with no prior
// run may also be started this way.
func (t *Tracker) Restart(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	latest, err := t.store.LatestProgress(ctx, slug)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "tracker: restart %s", slug)
	}
	if latest != nil && latest.Active() {
		return nil, eris.Wrapf(store.ErrConflict, "tracker: restart %s: run %s is %s", slug, latest.ID, latest.Status)
	}
	return t.Run(ctx, slug)
}

// scan walks the ticket set and persists drafts. The progress record is
// running on entry; scan never transitions it.
func (t *Tracker) scan(ctx context.Context, log *zap.Logger, runID, slug string) error {
	total, err := t.source.CountTickets(ctx, slug)
	if err != nil {
		return eris.Wrapf(err, "count tickets for %s", slug)
	}
	if err := t.store.SetTotalTickets(ctx, runID, total); err != nil {
		return eris.Wrapf(err, "set total for %s", slug)
	}

	// Nothing to scan: the run completes with zeroed counters.
	if total == 0 {
		log.Info("no tickets to analyze")
		return nil
	}

	tickets, err := t.source.Tickets(ctx, slug)
	if err != nil {
		return eris.Wrapf(err, "fetch tickets for %s", slug)
	}

	// Serial walk: one counter increment per ticket, in order.
	window := make([]model.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		if ctx.Err() != nil {
			return eris.New(CancelledMessage)
		}
		if err := t.store.RecordTicket(ctx, runID, ticket.TicketID); err != nil {
			return eris.Wrapf(err, "record ticket %d", ticket.TicketID)
		}
		window = append(window, ticket)
	}

	result, err := t.analyst.Analyze(ctx, analyst.Request{Slug: slug, Tickets: window})
	if err != nil {
		return eris.Wrapf(err, "analyze %s", slug)
	}

	// Follow up on the analyst's suggested knowledge-base queries, then
	// refine the drafts with whatever the searches turned up.
	if docs, err := t.searchKB(ctx, log, runID, slug, result.KBQueries); err != nil {
		return err
	} else if len(docs) > 0 {
		refined, err := t.analyst.Analyze(ctx, analyst.Request{Slug: slug, Tickets: window, KBContext: docs})
		if err != nil {
			return eris.Wrapf(err, "refine %s", slug)
		}
		if len(refined.Recommendations) > 0 {
			result = refined
		}
	}

	now := time.Now().UTC()
	for i := range result.Recommendations {
		detail := &result.Recommendations[i]
		detail.RecommendationID = uuid.NewString()
		detail.Slug = slug
		detail.Status = "draft"
		detail.CreatedAt = now
		if err := detail.Validate(); err != nil {
			return eris.Wrapf(err, "draft %d for %s", i, slug)
		}
		if err := t.store.CreateRecommendation(ctx, detail); err != nil {
			return eris.Wrapf(err, "persist draft %q", detail.Title)
		}
	}
	log.Info("drafts persisted",
		zap.Int("tickets", len(window)),
		zap.Int("recommendations", len(result.Recommendations)),
	)
	return nil
}

// searchKB performs rate-limited knowledge-base lookups, recording each one
// on the run.
func (t *Tracker) searchKB(ctx context.Context, log *zap.Logger, runID, slug string, queries []string) ([]model.KBDocument, error) {
	if len(queries) > maxFollowUpSearches {
		queries = queries[:maxFollowUpSearches]
	}
	var docs []model.KBDocument
	for _, query := range queries {
		if err := t.kbLimiter.Wait(ctx); err != nil {
			return nil, eris.New(CancelledMessage)
		}
		found, err := t.source.SearchKB(ctx, slug, query)
		if err != nil {
			return nil, eris.Wrapf(err, "kb search %q", query)
		}
		if err := t.store.RecordKBSearch(ctx, runID); err != nil {
			return nil, eris.Wrap(err, "record kb search")
		}
		docs = append(docs, found...)
	}
	if len(queries) > 0 {
		log.Debug("kb searches performed", zap.Int("queries", len(queries)), zap.Int("documents", len(docs)))
	}
	return docs, nil
}

// fail marks the run failed, keeping partial counters. The write uses a
// detached context so cancellation of the run itself cannot block it.
func (t *Tracker) fail(ctx context.Context, log *zap.Logger, runID string, cause error) {
	msg := cause.Error()
	if eris.Is(cause, context.Canceled) || ctx.Err() != nil {
		msg = CancelledMessage
	}
	if err := t.store.FailProgress(context.WithoutCancel(ctx), runID, msg); err != nil {
		log.Error("could not mark run failed", zap.Error(err))
		return
	}
	log.Warn("analysis run failed", zap.String("error_message", msg))
}
