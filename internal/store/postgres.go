package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
)

const createRowsTable = `
CREATE TABLE IF NOT EXISTS mis_rows (
	tbl        TEXT   NOT NULL,
	id         TEXT   NOT NULL,
	doc        JSONB  NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (tbl, id)
)`

// Postgres stores every table in one mis_rows table, one JSONB document per
// row. Equality filters are pushed down; ordering and paging are applied in
// process so both stores sort mixed-type columns identically.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Tables = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createRowsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Postgres{pool: pool, now: time.Now}, nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("connection pool is nil")
	}
	return s.pool.Ping(ctx)
}

func (s *Postgres) Select(ctx context.Context, q model.Query) ([]model.Row, error) {
	var sb strings.Builder
	sb.WriteString("SELECT doc FROM mis_rows WHERE tbl = $1")
	args := []any{q.Table}
	// Numeric and null filters are matched in Go, where stored numbers
	// compare by value.
	for col, want := range q.Eq {
		if _, ok := filterNumber(want); ok || want == nil {
			continue
		}
		args = append(args, col, textOf(want))
		fmt.Fprintf(&sb, " AND doc->>$%d = $%d", len(args)-1, len(args))
	}

	pgRows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "select rows")
	}
	defer pgRows.Close()

	rows := make([]model.Row, 0)
	for pgRows.Next() {
		var doc []byte
		if err := pgRows.Scan(&doc); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		r, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		if matchesEq(r, q.Eq) {
			rows = append(rows, r)
		}
	}
	if err := pgRows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}

	sortRows(rows, q.Order, q.Desc)
	return page(rows, q.Offset, q.Limit), nil
}

func (s *Postgres) Get(ctx context.Context, table, id string) (model.Row, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, "SELECT doc FROM mis_rows WHERE tbl = $1 AND id = $2", table, id).Scan(&doc)
	if err != nil {
		return nil, notFoundOr(err, "get row")
	}
	return decodeDoc(doc)
}

func (s *Postgres) Insert(ctx context.Context, table string, row model.Row) (model.Row, error) {
	r := cloneRow(row)
	if r.ID() == "" {
		r["id"] = uuid.NewString()
	}
	now := s.now().UnixMilli()
	r["created_at"] = now
	r["updated_at"] = now

	doc, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode row")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO mis_rows (tbl, id, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (tbl, id) DO NOTHING`,
		table, r.ID(), doc, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert row")
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.New(apperr.KindConflict, "store.insert", "duplicate id")
	}
	return decodeDoc(doc)
}

func (s *Postgres) Update(ctx context.Context, table, id string, patch model.Row) (model.Row, error) {
	p := cloneRow(patch)
	delete(p, "id")
	delete(p, "created_at")
	now := s.now().UnixMilli()
	p["updated_at"] = now

	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "encode patch")
	}
	var doc []byte
	err = s.pool.QueryRow(ctx,
		`UPDATE mis_rows SET doc = doc || $3::jsonb, updated_at = $4
		 WHERE tbl = $1 AND id = $2 RETURNING doc`,
		table, id, data, now).Scan(&doc)
	if err != nil {
		return nil, notFoundOr(err, "update row")
	}
	return decodeDoc(doc)
}

func (s *Postgres) Delete(ctx context.Context, table, id string) (model.Row, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		"DELETE FROM mis_rows WHERE tbl = $1 AND id = $2 RETURNING doc", table, id).Scan(&doc)
	if err != nil {
		return nil, notFoundOr(err, "delete row")
	}
	return decodeDoc(doc)
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return errors.Wrap(err, op)
}

func decodeDoc(doc []byte) (model.Row, error) {
	var r model.Row
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, errors.Wrap(err, "decode row")
	}
	return r, nil
}
