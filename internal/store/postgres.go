package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/supportlens/supportlens/internal/db"
	"github.com/supportlens/supportlens/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the tracker's hot-path queries to prepare on each
// new connection: one scan fires these once per ticket and per KB lookup.
// RecordTicket and RecordKBSearch invoke them by name.
var preparedStatements = map[string]string{
	"record_ticket": `UPDATE analysis_progress
		SET tickets_analyzed = tickets_analyzed + 1, last_ticket_id = $1
		WHERE id = $2 AND status = 'running'
		  AND (total_tickets IS NULL OR tickets_analyzed < total_tickets)`,
	"record_kb_search": `UPDATE analysis_progress
		SET kb_searches_performed = kb_searches_performed + 1
		WHERE id = $1 AND status = 'running'`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS slugs (
	slug              TEXT PRIMARY KEY,
	ticket_count      INTEGER NOT NULL DEFAULT 0 CHECK (ticket_count >= 0),
	match             BOOLEAN,
	matched_documents JSONB,
	matched_search    TEXT,
	last_matched      TIMESTAMPTZ,
	first_seen        TIMESTAMPTZ NOT NULL,
	last_seen         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
	recommendation_id    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	slug                 TEXT NOT NULL REFERENCES slugs(slug),
	title                TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'draft',
	priority             TEXT NOT NULL CHECK (priority IN ('low','medium','high')),
	confidence_score     DOUBLE PRECISION NOT NULL CHECK (confidence_score BETWEEN 0 AND 1),
	ticket_pattern       TEXT,
	frequency_data       JSONB,
	affected_user_groups JSONB,
	keywords             JSONB,
	related_slugs        JSONB,
	success_criteria     JSONB,
	analyst_notes        TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_analyzed        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sections (
	section_id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	recommendation_id TEXT NOT NULL REFERENCES recommendations(recommendation_id) ON DELETE CASCADE,
	section_number    INTEGER NOT NULL,
	section_title     TEXT NOT NULL,
	section_type      TEXT,
	content_outline   TEXT NOT NULL,
	source_info       TEXT,
	estimated_time    TEXT,
	UNIQUE (recommendation_id, section_number)
);

CREATE TABLE IF NOT EXISTS source_tickets (
	recommendation_id TEXT NOT NULL REFERENCES recommendations(recommendation_id) ON DELETE CASCADE,
	ticket_id         BIGINT NOT NULL,
	contribution_type TEXT,
	relevance_score   DOUBLE PRECISION CHECK (relevance_score IS NULL OR relevance_score BETWEEN 0 AND 1),
	notes             TEXT,
	PRIMARY KEY (recommendation_id, ticket_id)
);

CREATE TABLE IF NOT EXISTS analysis_progress (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	slug                  TEXT NOT NULL REFERENCES slugs(slug),
	total_tickets         INTEGER CHECK (total_tickets IS NULL OR total_tickets >= 0),
	tickets_analyzed      INTEGER NOT NULL DEFAULT 0,
	last_ticket_id        BIGINT,
	kb_searches_performed INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','running','completed','failed')),
	started_at            TIMESTAMPTZ,
	completed_at          TIMESTAMPTZ,
	error_message         TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_progress_active
	ON analysis_progress(slug) WHERE status IN ('pending','running');
CREATE INDEX IF NOT EXISTS idx_progress_slug ON analysis_progress(slug);
CREATE INDEX IF NOT EXISTS idx_progress_status ON analysis_progress(status);
CREATE INDEX IF NOT EXISTS idx_recommendations_slug ON recommendations(slug);
CREATE INDEX IF NOT EXISTS idx_sections_recommendation ON sections(recommendation_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Slugs ---

func (s *PostgresStore) UpsertSlug(ctx context.Context, slug model.Slug) (*model.Slug, error) {
	if err := slug.Validate(); err != nil {
		return nil, err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO slugs (slug, ticket_count, match, matched_documents, matched_search, last_matched, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (slug) DO UPDATE SET
			ticket_count      = GREATEST(slugs.ticket_count, EXCLUDED.ticket_count),
			match             = EXCLUDED.match,
			matched_documents = EXCLUDED.matched_documents,
			matched_search    = EXCLUDED.matched_search,
			last_matched      = COALESCE(EXCLUDED.last_matched, slugs.last_matched),
			last_seen         = GREATEST(slugs.last_seen, EXCLUDED.last_seen)`,
		slug.Slug, slug.TicketCount, slug.Match, payloadJSON(slug.MatchedDocuments),
		slug.MatchedSearch, slug.LastMatched, slug.FirstSeen.UTC(), slug.LastSeen.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert slug %s", slug.Slug)
	}
	return s.GetSlug(ctx, slug.Slug)
}

const pgSlugColumns = `slug, ticket_count, match, matched_documents, matched_search, last_matched, first_seen, last_seen`

func (s *PostgresStore) GetSlug(ctx context.Context, key string) (*model.Slug, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgSlugColumns+` FROM slugs WHERE slug = $1`, key)
	slug, err := pgScanSlug(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get slug %s", key)
	}
	return slug, nil
}

const pgStatsColumns = `
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug),
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug AND r.priority = 'high'),
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug AND r.priority = 'medium'),
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug AND r.priority = 'low'),
	(SELECT COUNT(*) FROM sections sec JOIN recommendations r ON sec.recommendation_id = r.recommendation_id WHERE r.slug = s.slug),
	COALESCE((SELECT p.tickets_analyzed FROM analysis_progress p WHERE p.slug = s.slug ORDER BY p.created_at DESC, p.id DESC LIMIT 1), 0),
	(SELECT p.status FROM analysis_progress p WHERE p.slug = s.slug ORDER BY p.created_at DESC, p.id DESC LIMIT 1),
	(SELECT AVG(r.confidence_score) FROM recommendations r WHERE r.slug = s.slug)`

func (s *PostgresStore) GetSlugWithStats(ctx context.Context, key string) (*model.SlugWithStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT s.slug, s.ticket_count, s.match, s.matched_documents, s.matched_search, s.last_matched, s.first_seen, s.last_seen,`+
		pgStatsColumns+`
		FROM slugs s WHERE s.slug = $1`, key)
	sw, err := pgScanSlugWithStats(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get slug stats %s", key)
	}
	return sw, nil
}

func (s *PostgresStore) ListSlugsWithStats(ctx context.Context, filter SlugFilter) ([]model.SlugWithStats, error) {
	query := `
		SELECT s.slug, s.ticket_count, s.match, s.matched_documents, s.matched_search, s.last_matched, s.first_seen, s.last_seen,` +
		pgStatsColumns + `
		FROM slugs s WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Match != nil {
		query += fmt.Sprintf(` AND s.match = $%d`, argIdx)
		args = append(args, *filter.Match)
		argIdx++
	}
	query += ` ORDER BY s.last_seen DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list slugs")
	}
	defer rows.Close()

	var out []model.SlugWithStats
	for rows.Next() {
		sw, err := pgScanSlugWithStats(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan slug stats")
		}
		out = append(out, *sw)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list slugs iterate")
}

// --- Recommendations ---

func (s *PostgresStore) CreateRecommendation(ctx context.Context, detail *model.RecommendationDetail) error {
	if err := detail.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	freq, err := jsonOrNil(detail.FrequencyData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal frequency data")
	}
	groups, err := jsonOrNil(detail.AffectedUserGroups)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal user groups")
	}
	keywords, err := jsonOrNil(detail.Keywords)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}
	related, err := jsonOrNil(detail.RelatedSlugs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal related slugs")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO recommendations (
			recommendation_id, slug, title, status, priority, confidence_score,
			ticket_pattern, frequency_data, affected_user_groups, keywords,
			related_slugs, success_criteria, analyst_notes, created_at, last_analyzed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		detail.RecommendationID, detail.Slug, detail.Title, detail.Status,
		string(detail.Priority), detail.ConfidenceScore,
		detail.TicketPattern, freq, groups, keywords, related,
		payloadJSON(detail.SuccessCriteria), detail.AnalystNotes,
		detail.CreatedAt.UTC(), detail.LastAnalyzed,
	)
	if err != nil {
		return pgError(err, "insert recommendation "+detail.RecommendationID)
	}

	for _, sec := range detail.Sections {
		id := sec.SectionID
		if id == "" {
			id = uuid.New().String()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO sections (section_id, recommendation_id, section_number, section_title, section_type, content_outline, source_info, estimated_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, detail.RecommendationID, sec.SectionNumber, sec.SectionTitle,
			sec.SectionType, sec.ContentOutline, sec.SourceInfo, sec.EstimatedTime,
		)
		if err != nil {
			return pgError(err, "insert section")
		}
	}
	for _, st := range detail.SourceTickets {
		_, err = tx.Exec(ctx, `
			INSERT INTO source_tickets (recommendation_id, ticket_id, contribution_type, relevance_score, notes)
			VALUES ($1, $2, $3, $4, $5)`,
			detail.RecommendationID, st.TicketID, st.ContributionType, st.RelevanceScore, st.Notes,
		)
		if err != nil {
			return pgError(err, "insert source ticket")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit recommendation")
}

func (s *PostgresStore) AddSection(ctx context.Context, recommendationID string, section model.Section) error {
	id := section.SectionID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sections (section_id, recommendation_id, section_number, section_title, section_type, content_outline, source_info, estimated_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, recommendationID, section.SectionNumber, section.SectionTitle,
		section.SectionType, section.ContentOutline, section.SourceInfo, section.EstimatedTime,
	)
	if err != nil {
		return pgError(err, "add section")
	}
	return nil
}

func (s *PostgresStore) AddSourceTicket(ctx context.Context, recommendationID string, ticket model.SourceTicket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_tickets (recommendation_id, ticket_id, contribution_type, relevance_score, notes)
		VALUES ($1, $2, $3, $4, $5)`,
		recommendationID, ticket.TicketID, ticket.ContributionType, ticket.RelevanceScore, ticket.Notes,
	)
	if err != nil {
		return pgError(err, "add source ticket")
	}
	return nil
}

const pgRecommendationColumns = `recommendation_id, slug, title, status, priority, confidence_score,
	ticket_pattern, frequency_data, affected_user_groups, keywords, related_slugs,
	success_criteria, analyst_notes, created_at, last_analyzed`

func (s *PostgresStore) GetRecommendationDetail(ctx context.Context, recommendationID string) (*model.RecommendationDetail, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRecommendationColumns+` FROM recommendations WHERE recommendation_id = $1`,
		recommendationID)
	rec, err := pgScanRecommendation(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get recommendation %s", recommendationID)
	}

	detail := &model.RecommendationDetail{Recommendation: *rec}

	rows, err := s.pool.Query(ctx, `
		SELECT section_id, section_number, section_title, section_type, content_outline, source_info, estimated_time
		FROM sections WHERE recommendation_id = $1 ORDER BY section_number`,
		recommendationID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get sections")
	}
	defer rows.Close()
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.SectionID, &sec.SectionNumber, &sec.SectionTitle, &sec.SectionType, &sec.ContentOutline, &sec.SourceInfo, &sec.EstimatedTime); err != nil {
			return nil, eris.Wrap(err, "postgres: scan section")
		}
		detail.Sections = append(detail.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: sections iterate")
	}

	trows, err := s.pool.Query(ctx, `
		SELECT ticket_id, contribution_type, relevance_score, notes
		FROM source_tickets WHERE recommendation_id = $1 ORDER BY ticket_id`,
		recommendationID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get source tickets")
	}
	defer trows.Close()
	for trows.Next() {
		var st model.SourceTicket
		if err := trows.Scan(&st.TicketID, &st.ContributionType, &st.RelevanceScore, &st.Notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source ticket")
		}
		detail.SourceTickets = append(detail.SourceTickets, st)
	}
	if err := trows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: source tickets iterate")
	}

	return detail, nil
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error) {
	query := `SELECT ` + pgRecommendationColumns + ` FROM recommendations WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Slug != "" {
		query += fmt.Sprintf(` AND slug = $%d`, argIdx)
		args = append(args, filter.Slug)
		argIdx++
	}
	if filter.Priority != "" {
		query += fmt.Sprintf(` AND priority = $%d`, argIdx)
		args = append(args, string(filter.Priority))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recommendations")
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		rec, err := pgScanRecommendation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan recommendation")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list recommendations iterate")
}

func (s *PostgresStore) DeleteRecommendation(ctx context.Context, recommendationID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM recommendations WHERE recommendation_id = $1`, recommendationID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete recommendation %s", recommendationID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "recommendation %s", recommendationID)
	}
	return nil
}

// --- Analysis progress ---

func (s *PostgresStore) CreateProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_progress (id, slug, status, created_at)
		VALUES ($1, $2, $3, $4)`,
		id, slug, string(model.RunStatusPending), now,
	)
	if err != nil {
		return nil, pgError(err, "create progress for "+slug)
	}

	return &model.AnalysisProgress{
		ID:        id,
		Slug:      slug,
		Status:    model.RunStatusPending,
		CreatedAt: now,
	}, nil
}

const pgProgressColumns = `id, slug, total_tickets, tickets_analyzed, last_ticket_id,
	kb_searches_performed, status, started_at, completed_at, error_message, created_at`

func (s *PostgresStore) GetProgress(ctx context.Context, id string) (*model.AnalysisProgress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgProgressColumns+` FROM analysis_progress WHERE id = $1`, id)
	p, err := pgScanProgress(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get progress %s", id)
	}
	return p, nil
}

func (s *PostgresStore) GetActiveProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgProgressColumns+` FROM analysis_progress
		 WHERE slug = $1 AND status IN ('pending','running')`, slug)
	p, err := pgScanProgress(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get active progress for %s", slug)
	}
	return p, nil
}

func (s *PostgresStore) LatestProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgProgressColumns+` FROM analysis_progress
		 WHERE slug = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, slug)
	p, err := pgScanProgress(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest progress for %s", slug)
	}
	return p, nil
}

func (s *PostgresStore) ListProgress(ctx context.Context, filter ProgressFilter) ([]model.AnalysisProgress, error) {
	query := `SELECT ` + pgProgressColumns + ` FROM analysis_progress WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Slug != "" {
		query += fmt.Sprintf(` AND slug = $%d`, argIdx)
		args = append(args, filter.Slug)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list progress")
	}
	defer rows.Close()

	var out []model.AnalysisProgress
	for rows.Next() {
		p, err := pgScanProgress(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan progress")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list progress iterate")
}

func (s *PostgresStore) StartProgress(ctx context.Context, id string, totalTickets *int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_progress
		SET status = 'running', started_at = $1, total_tickets = $2,
			tickets_analyzed = 0, kb_searches_performed = 0,
			last_ticket_id = NULL, error_message = NULL
		WHERE id = $3 AND status = 'pending'`,
		time.Now().UTC(), totalTickets, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start progress %s", id)
	}
	return pgTransitionGuard(tag, id, "start")
}

func (s *PostgresStore) SetTotalTickets(ctx context.Context, id string, total int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_progress SET total_tickets = $1
		WHERE id = $2 AND status = 'running' AND tickets_analyzed <= $1`,
		total, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set total tickets %s", id)
	}
	return pgTransitionGuard(tag, id, "set total")
}

func (s *PostgresStore) RecordTicket(ctx context.Context, id string, ticketID int64) error {
	tag, err := s.pool.Exec(ctx, "record_ticket", ticketID, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: record ticket on %s", id)
	}
	return pgTransitionGuard(tag, id, "record ticket")
}

func (s *PostgresStore) RecordKBSearch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "record_kb_search", id)
	if err != nil {
		return eris.Wrapf(err, "postgres: record kb search on %s", id)
	}
	return pgTransitionGuard(tag, id, "record kb search")
}

func (s *PostgresStore) CompleteProgress(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_progress SET status = 'completed', completed_at = $1
		WHERE id = $2 AND status = 'running'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete progress %s", id)
	}
	return pgTransitionGuard(tag, id, "complete")
}

func (s *PostgresStore) FailProgress(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_progress SET status = 'failed', completed_at = $1, error_message = $2
		WHERE id = $3 AND status = 'running'`,
		time.Now().UTC(), message, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail progress %s", id)
	}
	return pgTransitionGuard(tag, id, "fail")
}

// --- helpers ---

func pgTransitionGuard(tag pgconn.CommandTag, id, op string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrInvalidTransition, "%s on progress %s", op, id)
	}
	return nil
}

// pgError maps Postgres constraint violations onto the store's sentinel
// errors. 23503 is foreign_key_violation, 23505 is unique_violation.
func pgError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return eris.Wrap(ErrForeignKey, op)
		case "23505":
			return eris.Wrap(ErrConflict, op)
		}
	}
	return eris.Wrap(err, "postgres: "+op)
}

func payloadJSON(p model.Payload) any {
	if !p.Valid {
		return nil
	}
	return []byte(p.Raw)
}

func jsonOrNil(v any) (any, error) {
	switch x := v.(type) {
	case *model.FrequencyData:
		if x == nil {
			return nil, nil
		}
	case []string:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func pgScanSlug(row pgx.Row) (*model.Slug, error) {
	var s model.Slug
	var docs []byte

	err := row.Scan(&s.Slug, &s.TicketCount, &s.Match, &docs, &s.MatchedSearch, &s.LastMatched, &s.FirstSeen, &s.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.MatchedDocuments = model.NewPayload(docs)
	return &s, nil
}

func pgScanSlugWithStats(row pgx.Row) (*model.SlugWithStats, error) {
	var sw model.SlugWithStats
	var docs []byte
	var status *string

	err := row.Scan(
		&sw.Slug.Slug, &sw.TicketCount, &sw.Match, &docs, &sw.MatchedSearch, &sw.LastMatched, &sw.FirstSeen, &sw.LastSeen,
		&sw.RecommendationCount, &sw.HighPriorityCount, &sw.MediumPriorityCount, &sw.LowPriorityCount,
		&sw.TotalSections, &sw.TotalTicketsAnalyzed, &status, &sw.AvgConfidence,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sw.MatchedDocuments = model.NewPayload(docs)
	if status != nil {
		st := model.RunStatus(*status)
		sw.AnalysisStatus = &st
	}
	return &sw, nil
}

func pgScanRecommendation(row pgx.Row) (*model.Recommendation, error) {
	var r model.Recommendation
	var freq, groups, keywords, related, criteria []byte

	err := row.Scan(
		&r.RecommendationID, &r.Slug, &r.Title, &r.Status, &r.Priority, &r.ConfidenceScore,
		&r.TicketPattern, &freq, &groups, &keywords, &related, &criteria, &r.AnalystNotes,
		&r.CreatedAt, &r.LastAnalyzed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.SuccessCriteria = model.NewPayload(criteria)
	if freq != nil {
		r.FrequencyData = &model.FrequencyData{}
		if err := json.Unmarshal(freq, r.FrequencyData); err != nil {
			return nil, eris.Wrap(err, "unmarshal frequency data")
		}
	}
	for _, pair := range []struct {
		src []byte
		dst *[]string
	}{
		{groups, &r.AffectedUserGroups},
		{keywords, &r.Keywords},
		{related, &r.RelatedSlugs},
	} {
		if pair.src != nil {
			if err := json.Unmarshal(pair.src, pair.dst); err != nil {
				return nil, eris.Wrap(err, "unmarshal string list")
			}
		}
	}
	return &r, nil
}

func pgScanProgress(row pgx.Row) (*model.AnalysisProgress, error) {
	var p model.AnalysisProgress

	err := row.Scan(
		&p.ID, &p.Slug, &p.TotalTickets, &p.TicketsAnalyzed, &p.LastTicketID,
		&p.KBSearchesPerformed, &p.Status, &p.StartedAt, &p.CompletedAt, &p.ErrorMessage, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
