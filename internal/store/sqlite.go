package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/supportlens/supportlens/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path. Pragmas are passed in
// the DSN so modernc applies them on every pooled connection; foreign_keys
// must be on for the cascade and reference checks to hold.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS slugs (
	slug              TEXT PRIMARY KEY,
	ticket_count      INTEGER NOT NULL DEFAULT 0 CHECK (ticket_count >= 0),
	match             INTEGER,
	matched_documents TEXT,
	matched_search    TEXT,
	last_matched      DATETIME,
	first_seen        DATETIME NOT NULL,
	last_seen         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
	recommendation_id    TEXT PRIMARY KEY,
	slug                 TEXT NOT NULL REFERENCES slugs(slug),
	title                TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'draft',
	priority             TEXT NOT NULL CHECK (priority IN ('low','medium','high')),
	confidence_score     REAL NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	ticket_pattern       TEXT,
	frequency_data       TEXT,
	affected_user_groups TEXT,
	keywords             TEXT,
	related_slugs        TEXT,
	success_criteria     TEXT,
	analyst_notes        TEXT,
	created_at           DATETIME NOT NULL,
	last_analyzed        DATETIME
);

CREATE TABLE IF NOT EXISTS sections (
	section_id        TEXT PRIMARY KEY,
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
	ticket_id         INTEGER NOT NULL,
	contribution_type TEXT,
	relevance_score   REAL CHECK (relevance_score IS NULL OR (relevance_score >= 0 AND relevance_score <= 1)),
	notes             TEXT,
	PRIMARY KEY (recommendation_id, ticket_id)
);

CREATE TABLE IF NOT EXISTS analysis_progress (
	id                    TEXT PRIMARY KEY,
	slug                  TEXT NOT NULL REFERENCES slugs(slug),
	total_tickets         INTEGER CHECK (total_tickets IS NULL OR total_tickets >= 0),
	tickets_analyzed      INTEGER NOT NULL DEFAULT 0,
	last_ticket_id        INTEGER,
	kb_searches_performed INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','running','completed','failed')),
	started_at            DATETIME,
	completed_at          DATETIME,
	error_message         TEXT,
	created_at            DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_progress_active
	ON analysis_progress(slug) WHERE status IN ('pending','running');
CREATE INDEX IF NOT EXISTS idx_progress_slug ON analysis_progress(slug);
CREATE INDEX IF NOT EXISTS idx_progress_status ON analysis_progress(status);
CREATE INDEX IF NOT EXISTS idx_recommendations_slug ON recommendations(slug);
CREATE INDEX IF NOT EXISTS idx_sections_recommendation ON sections(recommendation_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Slugs ---

func (s *SQLiteStore) UpsertSlug(ctx context.Context, slug model.Slug) (*model.Slug, error) {
	if err := slug.Validate(); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slugs (slug, ticket_count, match, matched_documents, matched_search, last_matched, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			ticket_count      = MAX(slugs.ticket_count, excluded.ticket_count),
			match             = excluded.match,
			matched_documents = excluded.matched_documents,
			matched_search    = excluded.matched_search,
			last_matched      = COALESCE(excluded.last_matched, slugs.last_matched),
			last_seen         = MAX(slugs.last_seen, excluded.last_seen)`,
		slug.Slug, slug.TicketCount, nullBool(slug.Match), payloadArg(slug.MatchedDocuments),
		nullString(slug.MatchedSearch), nullTime(slug.LastMatched),
		slug.FirstSeen.UTC(), slug.LastSeen.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert slug %s", slug.Slug)
	}
	return s.GetSlug(ctx, slug.Slug)
}

const sqliteSlugColumns = `slug, ticket_count, match, matched_documents, matched_search, last_matched, first_seen, last_seen`

func (s *SQLiteStore) GetSlug(ctx context.Context, key string) (*model.Slug, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSlugColumns+` FROM slugs WHERE slug = ?`, key)
	slug, err := scanSlug(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get slug %s", key)
	}
	return slug, nil
}

// sqliteStatsColumns computes every SlugWithStats aggregate on read, per
// slug, from recommendation and progress rows. The rollup is never stored.
const sqliteStatsColumns = `
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug),
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug AND r.priority = 'high'),
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug AND r.priority = 'medium'),
	(SELECT COUNT(*) FROM recommendations r WHERE r.slug = s.slug AND r.priority = 'low'),
	(SELECT COUNT(*) FROM sections sec JOIN recommendations r ON sec.recommendation_id = r.recommendation_id WHERE r.slug = s.slug),
	COALESCE((SELECT p.tickets_analyzed FROM analysis_progress p WHERE p.slug = s.slug ORDER BY p.created_at DESC, p.id DESC LIMIT 1), 0),
	(SELECT p.status FROM analysis_progress p WHERE p.slug = s.slug ORDER BY p.created_at DESC, p.id DESC LIMIT 1),
	(SELECT AVG(r.confidence_score) FROM recommendations r WHERE r.slug = s.slug)`

func (s *SQLiteStore) GetSlugWithStats(ctx context.Context, key string) (*model.SlugWithStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.slug, s.ticket_count, s.match, s.matched_documents, s.matched_search, s.last_matched, s.first_seen, s.last_seen,`+
		sqliteStatsColumns+`
		FROM slugs s WHERE s.slug = ?`, key)
	sw, err := scanSlugWithStats(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get slug stats %s", key)
	}
	return sw, nil
}

func (s *SQLiteStore) ListSlugsWithStats(ctx context.Context, filter SlugFilter) ([]model.SlugWithStats, error) {
	query := `
		SELECT s.slug, s.ticket_count, s.match, s.matched_documents, s.matched_search, s.last_matched, s.first_seen, s.last_seen,` +
		sqliteStatsColumns + `
		FROM slugs s WHERE 1=1`
	var args []any

	if filter.Match != nil {
		query += ` AND s.match = ?`
		args = append(args, *filter.Match)
	}
	query += ` ORDER BY s.last_seen DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list slugs")
	}
	defer rows.Close()

	var out []model.SlugWithStats
	for rows.Next() {
		sw, err := scanSlugWithStats(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan slug stats")
		}
		out = append(out, *sw)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list slugs iterate")
}

// --- Recommendations ---

func (s *SQLiteStore) CreateRecommendation(ctx context.Context, detail *model.RecommendationDetail) error {
	if err := detail.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	freq, err := marshalNullable(detail.FrequencyData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal frequency data")
	}
	groups, err := marshalNullable(detail.AffectedUserGroups)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal user groups")
	}
	keywords, err := marshalNullable(detail.Keywords)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal keywords")
	}
	related, err := marshalNullable(detail.RelatedSlugs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal related slugs")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recommendations (
			recommendation_id, slug, title, status, priority, confidence_score,
			ticket_pattern, frequency_data, affected_user_groups, keywords,
			related_slugs, success_criteria, analyst_notes, created_at, last_analyzed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		detail.RecommendationID, detail.Slug, detail.Title, detail.Status,
		string(detail.Priority), detail.ConfidenceScore,
		nullString(detail.TicketPattern), freq, groups, keywords, related,
		payloadArg(detail.SuccessCriteria), nullString(detail.AnalystNotes),
		detail.CreatedAt.UTC(), nullTime(detail.LastAnalyzed),
	)
	if err != nil {
		return sqliteError(err, "insert recommendation "+detail.RecommendationID)
	}

	for _, sec := range detail.Sections {
		if err := insertSection(ctx, tx, detail.RecommendationID, sec); err != nil {
			return err
		}
	}
	for _, st := range detail.SourceTickets {
		if err := insertSourceTicket(ctx, tx, detail.RecommendationID, st); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit recommendation")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSection(ctx context.Context, ex execer, recommendationID string, sec model.Section) error {
	id := sec.SectionID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sections (section_id, recommendation_id, section_number, section_title, section_type, content_outline, source_info, estimated_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, recommendationID, sec.SectionNumber, sec.SectionTitle,
		nullString(sec.SectionType), sec.ContentOutline,
		nullString(sec.SourceInfo), nullString(sec.EstimatedTime),
	)
	if err != nil {
		return sqliteError(err, "insert section")
	}
	return nil
}

func insertSourceTicket(ctx context.Context, ex execer, recommendationID string, st model.SourceTicket) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO source_tickets (recommendation_id, ticket_id, contribution_type, relevance_score, notes)
		VALUES (?, ?, ?, ?, ?)`,
		recommendationID, st.TicketID, nullString(st.ContributionType),
		nullFloat(st.RelevanceScore), nullString(st.Notes),
	)
	if err != nil {
		return sqliteError(err, "insert source ticket")
	}
	return nil
}

func (s *SQLiteStore) AddSection(ctx context.Context, recommendationID string, section model.Section) error {
	return insertSection(ctx, s.db, recommendationID, section)
}

func (s *SQLiteStore) AddSourceTicket(ctx context.Context, recommendationID string, ticket model.SourceTicket) error {
	return insertSourceTicket(ctx, s.db, recommendationID, ticket)
}

const sqliteRecommendationColumns = `recommendation_id, slug, title, status, priority, confidence_score,
	ticket_pattern, frequency_data, affected_user_groups, keywords, related_slugs,
	success_criteria, analyst_notes, created_at, last_analyzed`

func (s *SQLiteStore) GetRecommendationDetail(ctx context.Context, recommendationID string) (*model.RecommendationDetail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecommendationColumns+` FROM recommendations WHERE recommendation_id = ?`,
		recommendationID)
	rec, err := scanRecommendation(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get recommendation %s", recommendationID)
	}

	detail := &model.RecommendationDetail{Recommendation: *rec}

	rows, err := s.db.QueryContext(ctx, `
		SELECT section_id, section_number, section_title, section_type, content_outline, source_info, estimated_time
		FROM sections WHERE recommendation_id = ? ORDER BY section_number`,
		recommendationID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get sections")
	}
	defer rows.Close()
	for rows.Next() {
		var sec model.Section
		var secType, sourceInfo, estTime sql.NullString
		if err := rows.Scan(&sec.SectionID, &sec.SectionNumber, &sec.SectionTitle, &secType, &sec.ContentOutline, &sourceInfo, &estTime); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan section")
		}
		sec.SectionType = strPtr(secType)
		sec.SourceInfo = strPtr(sourceInfo)
		sec.EstimatedTime = strPtr(estTime)
		detail.Sections = append(detail.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: sections iterate")
	}

	trows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, contribution_type, relevance_score, notes
		FROM source_tickets WHERE recommendation_id = ? ORDER BY ticket_id`,
		recommendationID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get source tickets")
	}
	defer trows.Close()
	for trows.Next() {
		var st model.SourceTicket
		var contrib, notes sql.NullString
		var rel sql.NullFloat64
		if err := trows.Scan(&st.TicketID, &contrib, &rel, &notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source ticket")
		}
		st.ContributionType = strPtr(contrib)
		st.RelevanceScore = floatPtr(rel)
		st.Notes = strPtr(notes)
		detail.SourceTickets = append(detail.SourceTickets, st)
	}
	if err := trows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: source tickets iterate")
	}

	return detail, nil
}

func (s *SQLiteStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error) {
	query := `SELECT ` + sqliteRecommendationColumns + ` FROM recommendations WHERE 1=1`
	var args []any

	if filter.Slug != "" {
		query += ` AND slug = ?`
		args = append(args, filter.Slug)
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recommendations")
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recommendation")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list recommendations iterate")
}

func (s *SQLiteStore) DeleteRecommendation(ctx context.Context, recommendationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recommendations WHERE recommendation_id = ?`, recommendationID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete recommendation %s", recommendationID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "recommendation %s", recommendationID)
	}
	return nil
}

// --- Analysis progress ---

func (s *SQLiteStore) CreateProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_progress (id, slug, status, created_at)
		VALUES (?, ?, ?, ?)`,
		id, slug, string(model.RunStatusPending), now,
	)
	if err != nil {
		return nil, sqliteError(err, "create progress for "+slug)
	}

	return &model.AnalysisProgress{
		ID:        id,
		Slug:      slug,
		Status:    model.RunStatusPending,
		CreatedAt: now,
	}, nil
}

const sqliteProgressColumns = `id, slug, total_tickets, tickets_analyzed, last_ticket_id,
	kb_searches_performed, status, started_at, completed_at, error_message, created_at`

func (s *SQLiteStore) GetProgress(ctx context.Context, id string) (*model.AnalysisProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProgressColumns+` FROM analysis_progress WHERE id = ?`, id)
	p, err := scanProgress(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get progress %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) GetActiveProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProgressColumns+` FROM analysis_progress
		 WHERE slug = ? AND status IN ('pending','running')`, slug)
	p, err := scanProgress(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get active progress for %s", slug)
	}
	return p, nil
}

func (s *SQLiteStore) LatestProgress(ctx context.Context, slug string) (*model.AnalysisProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProgressColumns+` FROM analysis_progress
		 WHERE slug = ? ORDER BY created_at DESC, id DESC LIMIT 1`, slug)
	p, err := scanProgress(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest progress for %s", slug)
	}
	return p, nil
}

func (s *SQLiteStore) ListProgress(ctx context.Context, filter ProgressFilter) ([]model.AnalysisProgress, error) {
	query := `SELECT ` + sqliteProgressColumns + ` FROM analysis_progress WHERE 1=1`
	var args []any

	if filter.Slug != "" {
		query += ` AND slug = ?`
		args = append(args, filter.Slug)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list progress")
	}
	defer rows.Close()

	var out []model.AnalysisProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan progress")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list progress iterate")
}

func (s *SQLiteStore) StartProgress(ctx context.Context, id string, totalTickets *int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_progress
		SET status = 'running', started_at = ?, total_tickets = ?,
			tickets_analyzed = 0, kb_searches_performed = 0,
			last_ticket_id = NULL, error_message = NULL
		WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), nullInt(totalTickets), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start progress %s", id)
	}
	return transitionGuard(res, id, "start")
}

func (s *SQLiteStore) SetTotalTickets(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_progress SET total_tickets = ?
		WHERE id = ? AND status = 'running' AND tickets_analyzed <= ?`,
		total, id, total,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set total tickets %s", id)
	}
	return transitionGuard(res, id, "set total")
}

func (s *SQLiteStore) RecordTicket(ctx context.Context, id string, ticketID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_progress
		SET tickets_analyzed = tickets_analyzed + 1, last_ticket_id = ?
		WHERE id = ? AND status = 'running'
		  AND (total_tickets IS NULL OR tickets_analyzed < total_tickets)`,
		ticketID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record ticket on %s", id)
	}
	return transitionGuard(res, id, "record ticket")
}

func (s *SQLiteStore) RecordKBSearch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_progress
		SET kb_searches_performed = kb_searches_performed + 1
		WHERE id = ? AND status = 'running'`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record kb search on %s", id)
	}
	return transitionGuard(res, id, "record kb search")
}

func (s *SQLiteStore) CompleteProgress(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_progress SET status = 'completed', completed_at = ?
		WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete progress %s", id)
	}
	return transitionGuard(res, id, "complete")
}

func (s *SQLiteStore) FailProgress(ctx context.Context, id string, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_progress SET status = 'failed', completed_at = ?, error_message = ?
		WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), message, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail progress %s", id)
	}
	return transitionGuard(res, id, "fail")
}

// --- helpers ---

// transitionGuard turns a zero-row UPDATE into the typed transition error:
// the guarded WHERE clause did not match the record's current state.
func transitionGuard(res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrInvalidTransition, "%s on progress %s", op, id)
	}
	return nil
}

// sqliteError maps constraint failures onto the store's sentinel errors.
func sqliteError(err error, op string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return eris.Wrap(ErrForeignKey, op)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return eris.Wrap(ErrConflict, op)
	}
	return eris.Wrap(err, "sqlite: "+op)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSlug(row scannable) (*model.Slug, error) {
	var s model.Slug
	var match sql.NullBool
	var docs, search sql.NullString
	var lastMatched sql.NullTime

	err := row.Scan(&s.Slug, &s.TicketCount, &match, &docs, &search, &lastMatched, &s.FirstSeen, &s.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	applySlugNullables(&s, match, docs, search, lastMatched)
	return &s, nil
}

func scanSlugWithStats(row scannable) (*model.SlugWithStats, error) {
	var sw model.SlugWithStats
	var match sql.NullBool
	var docs, search, status sql.NullString
	var lastMatched sql.NullTime
	var avgConfidence sql.NullFloat64

	err := row.Scan(
		&sw.Slug.Slug, &sw.TicketCount, &match, &docs, &search, &lastMatched, &sw.FirstSeen, &sw.LastSeen,
		&sw.RecommendationCount, &sw.HighPriorityCount, &sw.MediumPriorityCount, &sw.LowPriorityCount,
		&sw.TotalSections, &sw.TotalTicketsAnalyzed, &status, &avgConfidence,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	applySlugNullables(&sw.Slug, match, docs, search, lastMatched)
	if status.Valid {
		st := model.RunStatus(status.String)
		sw.AnalysisStatus = &st
	}
	sw.AvgConfidence = floatPtr(avgConfidence)
	return &sw, nil
}

func applySlugNullables(s *model.Slug, match sql.NullBool, docs, search sql.NullString, lastMatched sql.NullTime) {
	if match.Valid {
		s.Match = &match.Bool
	}
	if docs.Valid {
		s.MatchedDocuments = model.NewPayload(json.RawMessage(docs.String))
	}
	s.MatchedSearch = strPtr(search)
	if lastMatched.Valid {
		t := lastMatched.Time
		s.LastMatched = &t
	}
}

func scanRecommendation(row scannable) (*model.Recommendation, error) {
	var r model.Recommendation
	var pattern, freq, groups, keywords, related, criteria, notes sql.NullString
	var lastAnalyzed sql.NullTime

	err := row.Scan(
		&r.RecommendationID, &r.Slug, &r.Title, &r.Status, &r.Priority, &r.ConfidenceScore,
		&pattern, &freq, &groups, &keywords, &related, &criteria, &notes,
		&r.CreatedAt, &lastAnalyzed,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.TicketPattern = strPtr(pattern)
	r.AnalystNotes = strPtr(notes)
	if lastAnalyzed.Valid {
		t := lastAnalyzed.Time
		r.LastAnalyzed = &t
	}
	if criteria.Valid {
		r.SuccessCriteria = model.NewPayload(json.RawMessage(criteria.String))
	}
	if freq.Valid {
		r.FrequencyData = &model.FrequencyData{}
		if err := json.Unmarshal([]byte(freq.String), r.FrequencyData); err != nil {
			return nil, eris.Wrap(err, "unmarshal frequency data")
		}
	}
	for _, pair := range []struct {
		src sql.NullString
		dst *[]string
	}{
		{groups, &r.AffectedUserGroups},
		{keywords, &r.Keywords},
		{related, &r.RelatedSlugs},
	} {
		if pair.src.Valid {
			if err := json.Unmarshal([]byte(pair.src.String), pair.dst); err != nil {
				return nil, eris.Wrap(err, "unmarshal string list")
			}
		}
	}
	return &r, nil
}

func scanProgress(row scannable) (*model.AnalysisProgress, error) {
	var p model.AnalysisProgress
	var total sql.NullInt64
	var lastTicket sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(
		&p.ID, &p.Slug, &total, &p.TicketsAnalyzed, &lastTicket,
		&p.KBSearchesPerformed, &p.Status, &startedAt, &completedAt, &errMsg, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if total.Valid {
		n := int(total.Int64)
		p.TotalTickets = &n
	}
	if lastTicket.Valid {
		id := lastTicket.Int64
		p.LastTicketID = &id
	}
	if startedAt.Valid {
		t := startedAt.Time
		p.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	p.ErrorMessage = strPtr(errMsg)
	return &p, nil
}

func marshalNullable(v any) (any, error) {
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
	return string(data), nil
}

func payloadArg(p model.Payload) any {
	if !p.Valid {
		return nil
	}
	return string(p.Raw)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
