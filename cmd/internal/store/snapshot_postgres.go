package store

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshotter keeps the snapshot as a single bytea row.
//
// Ownership model:
// - PostgresSnapshotter does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresSnapshotter struct {
	pool   *pgxpool.Pool
	schema string
	key    string
}

// PostgresOption configures PostgresSnapshotter behavior.
type PostgresOption func(*PostgresSnapshotter) error

// WithSchema sets the DB schema used by this snapshotter (default: "lightlink").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresSnapshotter) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("store: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithSnapshotKey sets the row key (default: "state").
func WithSnapshotKey(key string) PostgresOption {
	return func(s *PostgresSnapshotter) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("store: empty snapshot key")
		}
		s.key = key
		return nil
	}
}

// NewPostgresSnapshotter constructs a Postgres-backed Snapshotter.
func NewPostgresSnapshotter(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresSnapshotter, error) {
	s := &PostgresSnapshotter{
		pool:   pool,
		schema: "lightlink",
		key:    "state",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("store: nil pool")
	}
	return s, nil
}

// EnsureSchema creates the schema and tables when missing.
func (s *PostgresSnapshotter) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + pgIdent(s.schema, "snapshots") + ` (
		   key        TEXT PRIMARY KEY,
		   payload    BYTEA NOT NULL,
		   updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + pgIdent(s.schema, "snapshot_backups") + ` (
		   id         BIGSERIAL PRIMARY KEY,
		   key        TEXT NOT NULL,
		   payload    BYTEA NOT NULL,
		   created_at TIMESTAMPTZ NOT NULL
		 )`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresSnapshotter) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresSnapshotter) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM `+pgIdent(s.schema, "snapshots")+` WHERE key = $1`,
		s.key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return payload, err
}

func (s *PostgresSnapshotter) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "snapshots")+` (key, payload, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE
		   SET payload = EXCLUDED.payload,
		       updated_at = EXCLUDED.updated_at`,
		s.key, data,
	)
	return err
}

// Backup inserts data into the backup table and returns "snapshot_backups/<id>".
func (s *PostgresSnapshotter) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var id int64
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "snapshot_backups")+` (key, payload, created_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		s.key, data, at,
	).Scan(&id); err != nil {
		return "", err
	}
	return "snapshot_backups/" + strconv.FormatInt(id, 10), nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresSnapshotter) Close() error { return nil }

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
