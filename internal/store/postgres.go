package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/visa-pipeline/internal/db"
	"github.com/sells-group/visa-pipeline/internal/model"
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresWithPool(pool, pool.Close), nil
}

// NewPostgresWithPool wraps an existing pool. closeFn may be nil.
func NewPostgresWithPool(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

// Migrate applies the embedded Postgres migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrationFS, "migrations/postgres"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if err := prepareNew(sub, uuid.NewString); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (id, user_id, status, language, raw_text, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.UserID, string(sub.Status), string(sub.Language), sub.RawText, sub.CreatedAt, sub.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert submission")
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id, userID string) (*model.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return sub, eris.Wrapf(err, "postgres: get submission %s", id)
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, userID string, limit int) ([]model.SubmissionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, language, raw_text, created_at, updated_at FROM submissions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var out []model.SubmissionSummary
	for rows.Next() {
		var id, status, lang, raw string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &status, &lang, &raw, &createdAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		out = append(out, summaryOf(id, status, lang, raw, createdAt, updatedAt))
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate submissions")
}

func (s *PostgresStore) ApplyChanges(ctx context.Context, id, userID string, changes []model.Change, guard Guard) (*model.Submission, error) {
	return applyGuarded(ctx, s, id, userID, changes, guard)
}

func (s *PostgresStore) WithLockedSubmission(ctx context.Context, id, userID string, fn func(ctx context.Context, tx Tx) error) (*model.Submission, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}

	sub, err := scanSubmission(tx.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		id, userID,
	))
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, eris.Wrapf(err, "postgres: lock submission %s", id)
	}

	ptx := &postgresTx{tx: tx, sub: sub}
	if err := fn(ctx, ptx); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit tx")
	}
	return ptx.sub, nil
}

type postgresTx struct {
	tx  pgx.Tx
	sub *model.Submission
}

func (t *postgresTx) Submission() *model.Submission { return t.sub }

func (t *postgresTx) Apply(ctx context.Context, changes []model.Change, status model.Stage) error {
	query, args, err := buildPostgresUpdate(t.sub.ID, t.sub.UserID, changes, status)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return eris.Wrapf(err, "postgres: update submission %s", t.sub.ID)
	}
	if err := t.sub.Apply(changes...); err != nil {
		return eris.Wrap(err, "postgres: apply changes")
	}
	t.sub.UpdatedAt = updatedAtOf(args)
	return nil
}

// buildPostgresUpdate renders UPDATE ... SET for the whitelisted columns.
// The last three args are updated_at, id and user_id.
func buildPostgresUpdate(id, userID string, changes []model.Change, status model.Stage) (string, []any, error) {
	cols, err := encodeChanges(changes)
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+4)
	for _, c := range cols {
		args = append(args, c.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c.name}.Sanitize(), len(args)))
	}
	args = append(args, string(status))
	sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id, userID)

	query := fmt.Sprintf(`UPDATE submissions SET %s WHERE id = $%d AND user_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))
	return query, args, nil
}

func updatedAtOf(args []any) time.Time {
	if len(args) >= 3 {
		if ts, ok := args[len(args)-3].(time.Time); ok {
			return ts
		}
	}
	return time.Now().UTC()
}
