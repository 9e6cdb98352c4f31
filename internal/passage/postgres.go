package passage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the passages table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS passages (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    body       TEXT NOT NULL,
    language   TEXT NOT NULL DEFAULT '',
    tags       JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_passages_language ON passages(lower(language));
CREATE INDEX IF NOT EXISTS idx_passages_tags ON passages USING GIN (tags);
`

const selectColumns = `id, title, body, language, tags, created_at, updated_at`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Tags are stored as a
// JSONB array.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on top of a connection or pool.
// Call [PostgresStore.Migrate] before issuing queries against a fresh
// database.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("passage: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers queries. It backs the readiness
// probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("passage: ping: %w", err)
	}
	return nil
}

// Create implements [Store.Create].
func (s *PostgresStore) Create(ctx context.Context, p *Passage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tags, err := marshalTags(p.Tags)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO passages (id, title, body, language, tags)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, p.ID, p.Title, p.Text, p.Language, tags).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("passage: create %q: %w", p.ID, err)
	}
	return nil
}

// Put implements [Store.Put].
func (s *PostgresStore) Put(ctx context.Context, p *Passage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tags, err := marshalTags(p.Tags)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO passages (id, title, body, language, tags)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			language = EXCLUDED.language,
			tags = EXCLUDED.tags,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, p.ID, p.Title, p.Text, p.Language, tags).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("passage: put %q: %w", p.ID, err)
	}
	return nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Passage, error) {
	const query = `SELECT ` + selectColumns + ` FROM passages WHERE id = $1`

	var (
		p    Passage
		tags []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Text, &p.Language, &tags, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("passage: get %q: %w", id, err)
	}
	if err := json.Unmarshal(tags, &p.Tags); err != nil {
		return nil, fmt.Errorf("passage: unmarshal tags of %q: %w", id, err)
	}
	return &p, nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]Passage, error) {
	var (
		where []string
		args  []any
	)
	if opts.Language != "" {
		args = append(args, opts.Language)
		where = append(where, "lower(language) = lower($"+strconv.Itoa(len(args))+")")
	}
	if opts.Tag != "" {
		args = append(args, opts.Tag)
		where = append(where, "tags ? $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM passages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("passage: list: %w", err)
	}
	defer rows.Close()

	out := []Passage{}
	for rows.Next() {
		var (
			p    Passage
			tags []byte
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Text, &p.Language, &tags, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("passage: list scan: %w", err)
		}
		if err := json.Unmarshal(tags, &p.Tags); err != nil {
			return nil, fmt.Errorf("passage: unmarshal tags of %q: %w", p.ID, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("passage: list: %w", err)
	}
	return out, nil
}

// Delete implements [Store.Delete].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM passages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("passage: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// marshalTags encodes tags for the JSONB column; nil becomes "[]".
func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("passage: marshal tags: %w", err)
	}
	return b, nil
}

// isDuplicateKeyError reports whether err is a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
