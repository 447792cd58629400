package db

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Migration is one embedded .sql file.
type Migration struct {
	Name string
	SQL  string
}

// LoadMigrations reads every .sql file in dir, sorted by filename.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "db: read migration dir %s", dir)
	}

	// Lexicographic = numeric order with zero-padded names.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "db: read migration %s", e.Name())
		}
		out = append(out, Migration{Name: e.Name(), SQL: string(data)})
	}
	return out, nil
}

// advisoryLockID guards concurrent migration runs (e.g. overlapping deploys).
const advisoryLockID = 5550199

// Migrate applies the pending migrations in dir against a Postgres pool,
// recording each in schema_migrations. Everything runs in one transaction
// holding a transaction-scoped advisory lock, so the lock lives on the same
// connection as the migrations and is released on commit or rollback.
func Migrate(ctx context.Context, pool Pool, fsys fs.FS, dir string) error {
	log := zap.L().With(zap.String("component", "db.migrate"))

	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin migration tx")
	}
	if err := migrateTx(ctx, tx, migrations, log); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Warn("db: rollback migration tx", zap.Error(rbErr))
		}
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "db: commit migrations")
}

func migrateTx(ctx context.Context, tx pgx.Tx, migrations []Migration, log *zap.Logger) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockID); err != nil {
		return eris.Wrap(err, "db: acquire migration advisory lock")
	}

	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "db: ensure migration table")
	}

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.Name))

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return eris.Wrapf(err, "db: apply migration %s", m.Name)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
			m.Name,
		); err != nil {
			return eris.Wrapf(err, "db: record migration %s", m.Name)
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "db: iterate migrations")
}
