/*
Package sqlite provides a SQLite-backed implementation of core.TxStore.

PURPOSE:
  Persists projects, subjects, skills, dependency edges, the skill event
  log, and materialized progress rows. The same schema ports to PostgreSQL
  with minor dialect changes (upsert syntax is already standard).

APPEND-ONLY ENFORCEMENT:
  skill_events rejects UPDATE and DELETE at the database level (triggers).
  Progress rows are a cache and are rewritten only by PutProgress.

KEY TABLES:
  projects, subjects:  Containers (existence only)
  skills:              Definitions, unique per (project_id, id)
  dependencies:        Edges; at most one active row per (project, from, to)
  skill_events:        Immutable occurrence log
  progress:            Per (project, skill, user) aggregate, upserted

TIME FORMAT:
  Timestamps are stored as fixed-width UTC strings so lexical order equals
  chronological order in ORDER BY, MAX() and range predicates.

CONCURRENCY:
  The pool is capped at one connection. SQLite allows a single writer
  anyway, and ":memory:" databases are per-connection. WithTx holds that
  connection for the duration of fn, so fn must only use the Store it is
  given.

USAGE:
  store, err := sqlite.New("./data/skills.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/skill-engine/core"
)

const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements core.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var _ core.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subjects (
		project_id TEXT NOT NULL REFERENCES projects(id),
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (project_id, id)
	);

	-- seq keeps creation order for listings
	CREATE TABLE IF NOT EXISTS skills (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		name TEXT NOT NULL,
		point_increment INTEGER NOT NULL CHECK (point_increment > 0),
		num_perform_to_completion INTEGER NOT NULL CHECK (num_perform_to_completion > 0),
		total_points INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (project_id, id),
		FOREIGN KEY (project_id, subject_id) REFERENCES subjects(project_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_skills_subject
		ON skills(project_id, subject_id, seq);

	CREATE TABLE IF NOT EXISTS dependencies (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		project_id TEXT NOT NULL,
		from_skill TEXT NOT NULL,
		to_skill TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		CHECK (from_skill <> to_skill)
	);

	-- CRITICAL: at most one active edge per (project, from, to)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_dependency
		ON dependencies(project_id, from_skill, to_skill)
		WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS skill_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		project_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		points_awarded INTEGER NOT NULL
	);

	-- Hot path: repeat-policy counts and per-(skill,user) history
	CREATE INDEX IF NOT EXISTS idx_events_key_time
		ON skill_events(project_id, skill_id, user_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_user
		ON skill_events(project_id, user_id, occurred_at);

	CREATE TRIGGER IF NOT EXISTS skill_events_no_update
		BEFORE UPDATE ON skill_events
		BEGIN SELECT RAISE(ABORT, 'skill_events is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS skill_events_no_delete
		BEFORE DELETE ON skill_events
		BEGIN SELECT RAISE(ABORT, 'skill_events is append-only'); END;

	CREATE TABLE IF NOT EXISTS progress (
		project_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		points_earned INTEGER NOT NULL,
		last_event_at TEXT NOT NULL,
		PRIMARY KEY (project_id, skill_id, user_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (core.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransactionFailed, err)
	}
	return nil
}

// Reset wipes every table. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// skill_events refuses DELETE; drop it and let migrate recreate it.
	stmts := []string{
		"DROP TABLE IF EXISTS skill_events",
		"DELETE FROM progress",
		"DELETE FROM dependencies",
		"DELETE FROM skills",
		"DELETE FROM subjects",
		"DELETE FROM projects",
	}
	for _, stmt := range stmts {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	return s.migrate()
}

// =============================================================================
// CONN - core.Store over a *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

var _ core.Store = (*conn)(nil)

// ----- containers -----

func (c *conn) SaveProject(ctx context.Context, p core.Project) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, formatTime(p.CreatedAt))
	return mapWriteErr("save project", err)
}

func (c *conn) GetProject(ctx context.Context, id core.ProjectID) (*core.Project, error) {
	var (
		p         core.Project
		createdAt string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (c *conn) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT id, name, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		var (
			p         core.Project
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *conn) SaveSubject(ctx context.Context, s core.Subject) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO subjects (project_id, id, name, created_at) VALUES (?, ?, ?, ?)`,
		s.ProjectID, s.ID, s.Name, formatTime(s.CreatedAt))
	return mapWriteErr("save subject", err)
}

func (c *conn) GetSubject(ctx context.Context, projectID core.ProjectID, id core.SubjectID) (*core.Subject, error) {
	var (
		s         core.Subject
		createdAt string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT project_id, id, name, created_at FROM subjects WHERE project_id = ? AND id = ?`,
		projectID, id,
	).Scan(&s.ProjectID, &s.ID, &s.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

// ----- skills -----

const skillColumns = `project_id, id, subject_id, name, point_increment,
	num_perform_to_completion, total_points, version, created_at, updated_at`

func (c *conn) InsertSkill(ctx context.Context, s core.Skill) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO skills (`+skillColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ProjectID, s.ID, s.SubjectID, s.Name, s.PointIncrement,
		s.NumPerformToCompletion, s.TotalPoints, s.Version,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return mapWriteErr("insert skill", err)
}

func (c *conn) UpdateSkill(ctx context.Context, s core.Skill) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE skills
		SET name = ?, point_increment = ?, num_perform_to_completion = ?,
		    total_points = ?, version = ?, updated_at = ?
		WHERE project_id = ? AND id = ?`,
		s.Name, s.PointIncrement, s.NumPerformToCompletion, s.TotalPoints,
		s.Version, formatTime(s.UpdatedAt), s.ProjectID, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update skill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update skill %s: %w", s.ID, core.ErrNotFound)
	}
	return nil
}

func (c *conn) GetSkill(ctx context.Context, projectID core.ProjectID, id core.SkillID) (*core.Skill, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get skill: %w", err)
	}
	list, err := scanSkills(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (c *conn) ListSkills(ctx context.Context, projectID core.ProjectID, subjectID core.SubjectID) ([]core.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills WHERE project_id = ?`
	args := []any{projectID}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	rows, err := c.q.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	return scanSkills(rows)
}

func scanSkills(rows *sql.Rows) ([]core.Skill, error) {
	defer rows.Close()
	var out []core.Skill
	for rows.Next() {
		var (
			s                    core.Skill
			createdAt, updatedAt string
		)
		err := rows.Scan(&s.ProjectID, &s.ID, &s.SubjectID, &s.Name, &s.PointIncrement,
			&s.NumPerformToCompletion, &s.TotalPoints, &s.Version, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ----- edges -----

func (c *conn) InsertEdge(ctx context.Context, e core.Edge) error {
	var active int
	err := c.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dependencies
		WHERE project_id = ? AND from_skill = ? AND to_skill = ? AND status = 'active'`,
		e.ProjectID, e.From, e.To,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to check edge: %w", err)
	}
	if active > 0 {
		return core.ErrDuplicateKey
	}

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO dependencies (id, project_id, from_skill, to_skill, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.From, e.To, e.Status, formatTime(e.CreatedAt))
	return mapWriteErr("insert edge", err)
}

func (c *conn) SetEdgeStatus(ctx context.Context, id core.EdgeID, status core.EdgeStatus) error {
	res, err := c.q.ExecContext(ctx, `UPDATE dependencies SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return mapWriteErr("set edge status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("edge %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (c *conn) DeleteEdge(ctx context.Context, projectID core.ProjectID, from, to core.SkillID) (bool, error) {
	res, err := c.q.ExecContext(ctx, `
		DELETE FROM dependencies
		WHERE project_id = ? AND from_skill = ? AND to_skill = ? AND status = 'active'`,
		projectID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to delete edge: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *conn) ListEdges(ctx context.Context, projectID core.ProjectID) ([]core.Edge, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, project_id, from_skill, to_skill, status, created_at
		FROM dependencies
		WHERE project_id = ? AND status = 'active'
		ORDER BY seq`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var out []core.Edge
	for rows.Next() {
		var (
			e         core.Edge
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.From, &e.To, &e.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ----- events -----

const eventColumns = `id, project_id, skill_id, user_id, occurred_at, points_awarded`

func (c *conn) AppendEvent(ctx context.Context, e core.SkillEvent) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO skill_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.SkillID, e.UserID, formatTime(e.OccurredAt), e.PointsAwarded)
	return mapWriteErr("append event", err)
}

func (c *conn) LoadEvents(ctx context.Context, key core.ProgressKey) ([]core.SkillEvent, error) {
	return c.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM skill_events
		WHERE project_id = ? AND skill_id = ? AND user_id = ?
		ORDER BY occurred_at ASC, seq ASC`,
		key.ProjectID, key.SkillID, key.UserID)
}

func (c *conn) LoadUserEvents(ctx context.Context, projectID core.ProjectID, userID core.UserID) ([]core.SkillEvent, error) {
	return c.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM skill_events
		WHERE project_id = ? AND user_id = ?
		ORDER BY occurred_at ASC, seq ASC`,
		projectID, userID)
}

func (c *conn) LoadProjectEvents(ctx context.Context, projectID core.ProjectID) ([]core.SkillEvent, error) {
	return c.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM skill_events
		WHERE project_id = ?
		ORDER BY occurred_at ASC, seq ASC`,
		projectID)
}

func (c *conn) queryEvents(ctx context.Context, query string, args ...any) ([]core.SkillEvent, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []core.SkillEvent
	for rows.Next() {
		var (
			e          core.SkillEvent
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SkillID, &e.UserID, &occurredAt, &e.PointsAwarded); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OccurredAt = parseTime(occurredAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *conn) CountEvents(ctx context.Context, key core.ProgressKey, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM skill_events
		WHERE project_id = ? AND skill_id = ? AND user_id = ? AND occurred_at >= ?`
	args := []any{key.ProjectID, key.SkillID, key.UserID, formatTime(from)}
	if !to.IsZero() {
		query += ` AND occurred_at < ?`
		args = append(args, formatTime(to))
	}
	var n int
	if err := c.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// ----- progress -----

func (c *conn) IncrementProgress(ctx context.Context, e core.SkillEvent) (core.Progress, error) {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO progress (project_id, skill_id, user_id, event_count, points_earned, last_event_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (project_id, skill_id, user_id) DO UPDATE SET
			event_count = event_count + 1,
			points_earned = points_earned + excluded.points_earned,
			last_event_at = MAX(last_event_at, excluded.last_event_at)`,
		e.ProjectID, e.SkillID, e.UserID, e.PointsAwarded, formatTime(e.OccurredAt))
	if err != nil {
		return core.Progress{}, fmt.Errorf("failed to increment progress: %w", err)
	}

	p, err := c.GetProgress(ctx, core.ProgressKey{ProjectID: e.ProjectID, SkillID: e.SkillID, UserID: e.UserID})
	if err != nil {
		return core.Progress{}, err
	}
	if p == nil {
		return core.Progress{}, fmt.Errorf("progress row missing after upsert")
	}
	return *p, nil
}

func (c *conn) GetProgress(ctx context.Context, key core.ProgressKey) (*core.Progress, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT project_id, skill_id, user_id, event_count, points_earned, last_event_at
		FROM progress WHERE project_id = ? AND skill_id = ? AND user_id = ?`,
		key.ProjectID, key.SkillID, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	list, err := scanProgress(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (c *conn) PutProgress(ctx context.Context, p core.Progress) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO progress (project_id, skill_id, user_id, event_count, points_earned, last_event_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, skill_id, user_id) DO UPDATE SET
			event_count = excluded.event_count,
			points_earned = excluded.points_earned,
			last_event_at = excluded.last_event_at`,
		p.ProjectID, p.SkillID, p.UserID, p.EventCount, p.PointsEarned, formatTime(p.LastEventAt))
	if err != nil {
		return fmt.Errorf("failed to put progress: %w", err)
	}
	return nil
}

func (c *conn) ListProgress(ctx context.Context, projectID core.ProjectID) ([]core.Progress, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT project_id, skill_id, user_id, event_count, points_earned, last_event_at
		FROM progress WHERE project_id = ?
		ORDER BY skill_id, user_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return scanProgress(rows)
}

func scanProgress(rows *sql.Rows) ([]core.Progress, error) {
	defer rows.Close()
	var out []core.Progress
	for rows.Next() {
		var (
			p    core.Progress
			last string
		)
		if err := rows.Scan(&p.ProjectID, &p.SkillID, &p.UserID, &p.EventCount, &p.PointsEarned, &last); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		p.LastEventAt = parseTime(last)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

// mapWriteErr turns unique/primary-key violations into core.ErrDuplicateKey.
func mapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return core.ErrDuplicateKey
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
