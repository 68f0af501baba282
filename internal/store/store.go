package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/supportlens/supportlens/internal/model"
)

// Sentinel errors surfaced by both backends. Callers check them with eris.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict indicates a non-terminal analysis run already exists for
	// the slug. The existing record is left untouched.
	ErrConflict = eris.New("store: active analysis run already exists")
	// ErrForeignKey indicates a write referenced a slug or recommendation
	// that does not exist.
	ErrForeignKey = eris.New("store: referenced record does not exist")
	// ErrInvalidTransition indicates a status change the run state machine
	// does not permit, or a counter update against a run that is not
	// running.
	ErrInvalidTransition = eris.New("store: invalid progress transition")
)

// SlugFilter specifies criteria for listing slugs with stats.
type SlugFilter struct {
	Match  *bool `json:"match,omitempty"`
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
}

// RecommendationFilter specifies criteria for listing recommendations.
type RecommendationFilter struct {
	Slug     string         `json:"slug,omitempty"`
	Priority model.Priority `json:"priority,omitempty"`
	Status   string         `json:"status,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// ProgressFilter specifies criteria for listing analysis progress records.
type ProgressFilter struct {
	Slug         string          `json:"slug,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis data model.
//
// Progress mutations enforce the run state machine in SQL: each UPDATE is
// guarded by the expected current status, and zero affected rows means the
// transition was illegal. The analysis tracker is the only component that
// may call them. SlugWithStats is computed on read from recommendation and
// progress rows, never stored.
type Store interface {
	// Slugs (written by the ingestion collaborator).
	UpsertSlug(ctx context.Context, slug model.Slug) (*model.Slug, error)
	GetSlug(ctx context.Context, key string) (*model.Slug, error)
	GetSlugWithStats(ctx context.Context, key string) (*model.SlugWithStats, error)
	ListSlugsWithStats(ctx context.Context, filter SlugFilter) ([]model.SlugWithStats, error)

	// Recommendations and their owned sections and source-ticket links.
	CreateRecommendation(ctx context.Context, detail *model.RecommendationDetail) error
	GetRecommendationDetail(ctx context.Context, recommendationID string) (*model.RecommendationDetail, error)
	ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error)
	AddSection(ctx context.Context, recommendationID string, section model.Section) error
	AddSourceTicket(ctx context.Context, recommendationID string, ticket model.SourceTicket) error
	DeleteRecommendation(ctx context.Context, recommendationID string) error

	// Analysis progress (written by the tracker only).
	CreateProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error)
	GetProgress(ctx context.Context, id string) (*model.AnalysisProgress, error)
	GetActiveProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error)
	LatestProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error)
	ListProgress(ctx context.Context, filter ProgressFilter) ([]model.AnalysisProgress, error)
	StartProgress(ctx context.Context, id string, totalTickets *int) error
	SetTotalTickets(ctx context.Context, id string, total int) error
	RecordTicket(ctx context.Context, id string, ticketID int64) error
	RecordKBSearch(ctx context.Context, id string) error
	CompleteProgress(ctx context.Context, id string) error
	FailProgress(ctx context.Context, id string, message string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
