package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/visa-pipeline/internal/db"
	"github.com/sells-group/visa-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

// Migrate applies the embedded SQLite migrations not yet recorded in
// schema_migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	migrations, err := db.LoadMigrations(migrationFS, "migrations/sqlite")
	if err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	for _, m := range migrations {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, m.Name,
		).Scan(&n); err != nil {
			return eris.Wrap(err, "sqlite: query applied migrations")
		}
		if n > 0 {
			continue
		}
		zap.L().Info("applying migration", zap.String("file", m.Name), zap.String("driver", "sqlite"))
		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", m.Name)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename) VALUES (?)`, m.Name,
		); err != nil {
			return eris.Wrapf(err, "sqlite: record migration %s", m.Name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if err := prepareNew(sub, uuid.NewString); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, user_id, status, language, raw_text, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, string(sub.Status), string(sub.Language), sub.RawText, sub.CreatedAt, sub.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert submission")
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id, userID string) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ? AND user_id = ?`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	return sub, eris.Wrapf(err, "sqlite: get submission %s", id)
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, userID string, limit int) ([]model.SubmissionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, language, raw_text, created_at, updated_at FROM submissions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SubmissionSummary
	for rows.Next() {
		var id, status, lang, raw string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &status, &lang, &raw, &createdAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan submission")
		}
		out = append(out, summaryOf(id, status, lang, raw, createdAt, updatedAt))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate submissions")
}

func (s *SQLiteStore) ApplyChanges(ctx context.Context, id, userID string, changes []model.Change, guard Guard) (*model.Submission, error) {
	return applyGuarded(ctx, s, id, userID, changes, guard)
}

// WithLockedSubmission takes the SQLite write lock up front: the first
// statement of the transaction is a no-op write on the row.
func (s *SQLiteStore) WithLockedSubmission(ctx context.Context, id, userID string, fn func(ctx context.Context, tx Tx) error) (*model.Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET updated_at = updated_at WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		_ = tx.Rollback()
		return nil, eris.Wrapf(err, "sqlite: lock submission %s", id)
	}
	if err := checkRowsAffected(res, id); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	sub, err := scanSubmission(tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		_ = tx.Rollback()
		return nil, eris.Wrapf(err, "sqlite: read locked submission %s", id)
	}

	stx := &sqliteTx{tx: tx, sub: sub}
	if err := fn(ctx, stx); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit tx")
	}
	return stx.sub, nil
}

type sqliteTx struct {
	tx  *sql.Tx
	sub *model.Submission
}

func (t *sqliteTx) Submission() *model.Submission { return t.sub }

func (t *sqliteTx) Apply(ctx context.Context, changes []model.Change, status model.Stage) error {
	query, args, err := buildSQLiteUpdate(t.sub.ID, t.sub.UserID, changes, status)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrapf(err, "sqlite: update submission %s", t.sub.ID)
	}
	if err := t.sub.Apply(changes...); err != nil {
		return eris.Wrap(err, "sqlite: apply changes")
	}
	t.sub.UpdatedAt = updatedAtOf(args)
	return nil
}

func buildSQLiteUpdate(id, userID string, changes []model.Change, status model.Stage) (string, []any, error) {
	cols, err := encodeChanges(changes)
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+4)
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = ?", c.name))
		args = append(args, c.value)
	}
	sets = append(sets, "status = ?", "updated_at = ?")
	args = append(args, string(status), time.Now().UTC(), id, userID)
	return `UPDATE submissions SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND user_id = ?`, args, nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}
