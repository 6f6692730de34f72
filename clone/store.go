package clone

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/replica/dbopen"
	"github.com/hazyhaar/replica/idgen"
	"github.com/hazyhaar/replica/llm"
)

// Schema is the session table DDL, applied via dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                    TEXT PRIMARY KEY,
	status                TEXT NOT NULL,
	url                   TEXT NOT NULL,
	quality               TEXT NOT NULL DEFAULT 'balanced',
	progress              TEXT NOT NULL DEFAULT '[]',
	result                TEXT,
	error_message         TEXT NOT NULL DEFAULT '',
	refinement_iterations INTEGER NOT NULL DEFAULT 0,
	run_owner             TEXT NOT NULL DEFAULT '',
	deleted               INTEGER NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, created_at);
`

// Store persists sessions in SQLite. Pipeline runs acquire an exclusive
// run token before mutating a session; concurrent acquisition attempts
// fail with ErrRunInFlight.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewStore wraps an opened database. The schema must already be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Prefixed("run_", idgen.NanoID(16))}
}

// Create inserts a new pending session and returns its copy.
func (st *Store) Create(ctx context.Context, req Request) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        idgen.Prefixed("sess_", idgen.UUIDv7())(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Request:   req,
		Progress: []ProgressStep{{
			Name:      "Queued",
			Status:    StatusPending,
			Message:   "Clone request accepted",
			StartedAt: now,
		}},
	}
	quality := req.Quality
	if quality == "" {
		quality = "balanced"
	}
	progress, err := json.Marshal(s.Progress)
	if err != nil {
		return nil, fmt.Errorf("clone: marshal progress: %w", err)
	}
	_, err = dbopen.Exec(ctx, st.db, `
		INSERT INTO sessions (id, status, url, quality, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Status, req.URL, quality, string(progress),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("clone: insert session: %w", err)
	}
	return s, nil
}

// Get loads a session by id. Sessions marked for deletion are invisible.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := st.db.QueryRowContext(ctx, `
		SELECT id, status, url, quality, progress, result, error_message,
		       refinement_iterations, created_at, updated_at
		FROM sessions WHERE id = ? AND deleted = 0`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// Update persists the mutable fields of a session. The caller must hold
// the run token for sessions in flight.
func (st *Store) Update(ctx context.Context, s *Session) error {
	progress, err := json.Marshal(s.Progress)
	if err != nil {
		return fmt.Errorf("clone: marshal progress: %w", err)
	}
	var result any
	if s.Result != nil {
		data, err := json.Marshal(s.Result)
		if err != nil {
			return fmt.Errorf("clone: marshal result: %w", err)
		}
		result = string(data)
	}
	res, err := dbopen.Exec(ctx, st.db, `
		UPDATE sessions
		SET status = ?, progress = ?, result = ?, error_message = ?,
		    refinement_iterations = ?, updated_at = ?
		WHERE id = ?`,
		s.Status, string(progress), result, s.ErrorMessage,
		s.RefinementIterations, s.UpdatedAt.Format(time.RFC3339Nano), s.ID)
	if err != nil {
		return fmt.Errorf("clone: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AcquireRun claims exclusive write access to a session and returns the
// run token. A second caller gets ErrRunInFlight until the first releases.
func (st *Store) AcquireRun(ctx context.Context, id string) (string, error) {
	token := st.newID()
	var acquired bool
	err := dbopen.RunTx(ctx, st.db, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT run_owner FROM sessions WHERE id = ? AND deleted = 0`, id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("clone: read run owner: %w", err)
		}
		if owner != "" {
			return nil // already held
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET run_owner = ? WHERE id = ?`, token, id); err != nil {
			return fmt.Errorf("clone: claim run: %w", err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", ErrRunInFlight
	}
	return token, nil
}

// ReleaseRun surrenders the run token. If the session was marked for
// deletion while the run was in flight, the row is removed now.
func (st *Store) ReleaseRun(ctx context.Context, id, token string) error {
	return dbopen.RunTx(ctx, st.db, func(tx *sql.Tx) error {
		var owner string
		var deleted bool
		err := tx.QueryRowContext(ctx,
			`SELECT run_owner, deleted FROM sessions WHERE id = ?`, id).Scan(&owner, &deleted)
		if errors.Is(err, sql.ErrNoRows) {
			return nil // deleted out from under us, nothing to release
		}
		if err != nil {
			return fmt.Errorf("clone: read run owner: %w", err)
		}
		if owner != token {
			return E(KindInternal, "run token mismatch on release")
		}
		if deleted {
			_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET run_owner = '' WHERE id = ?`, id)
		}
		if err != nil {
			return fmt.Errorf("clone: release run: %w", err)
		}
		return nil
	})
}

// Delete removes a session. If a run holds the token the row is only
// marked; the owning run deletes it on release. Reports whether removal
// was deferred.
func (st *Store) Delete(ctx context.Context, id string) (deferred bool, err error) {
	err = dbopen.RunTx(ctx, st.db, func(tx *sql.Tx) error {
		var owner string
		scanErr := tx.QueryRowContext(ctx,
			`SELECT run_owner FROM sessions WHERE id = ? AND deleted = 0`, id).Scan(&owner)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("clone: read run owner: %w", scanErr)
		}
		if owner != "" {
			deferred = true
			_, scanErr = tx.ExecContext(ctx,
				`UPDATE sessions SET deleted = 1 WHERE id = ?`, id)
		} else {
			_, scanErr = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		}
		if scanErr != nil {
			return fmt.Errorf("clone: delete session: %w", scanErr)
		}
		return nil
	})
	return deferred, err
}

// List returns sessions ordered newest first, optionally filtered by
// status. limit defaults to 20 and caps at 100.
func (st *Store) List(ctx context.Context, status Status, limit, offset int) ([]*Session, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where := "deleted = 0"
	args := []any{}
	if status != "" {
		where += " AND status = ?"
		args = append(args, status)
	}

	var total int
	if err := st.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("clone: count sessions: %w", err)
	}

	rows, err := st.db.QueryContext(ctx, `
		SELECT id, status, url, quality, progress, result, error_message,
		       refinement_iterations, created_at, updated_at
		FROM sessions WHERE `+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("clone: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s         Session
		progress  string
		result    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&s.ID, &s.Status, &s.Request.URL, &s.Request.Quality,
		&progress, &result, &s.ErrorMessage, &s.RefinementIterations,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(progress), &s.Progress); err != nil {
		return nil, fmt.Errorf("clone: unmarshal progress: %w", err)
	}
	if result.Valid {
		var art llm.Artifact
		if err := json.Unmarshal([]byte(result.String), &art); err != nil {
			return nil, fmt.Errorf("clone: unmarshal result: %w", err)
		}
		s.Result = &art
	}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("clone: parse created_at: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("clone: parse updated_at: %w", err)
	}
	return &s, nil
}
