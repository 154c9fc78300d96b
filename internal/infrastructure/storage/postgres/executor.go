package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/query"
)

var _ query.Conn = (*Conn)(nil)

// Conn executes record queries against PostgreSQL. It uses the transaction
// carried by the context when there is one and the pool otherwise.
type Conn struct {
	*TxManager
	fields sync.Map // table -> []string
}

// NewConn creates a connection over pool.
func NewConn(pool *Pool, opts TxOptions) *Conn {
	return &Conn{TxManager: NewTxManager(pool, opts)}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Select returns the rows matching b.
func (c *Conn) Select(ctx context.Context, b *query.Builder) ([]map[string]any, error) {
	sql, args, err := b.ToSelect(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []map[string]any
	if err := pgxscan.Select(ctx, c.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", b.Table(), err)
	}
	return rows, nil
}

// Count returns the number of rows matching b.
func (c *Conn) Count(ctx context.Context, b *query.Builder) (int64, error) {
	sql, args, err := b.ToCount(squirrel.Dollar).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	if err := c.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", b.Table(), err)
	}
	return n, nil
}

// Insert writes one row. With returnKey and a single key column the generated
// key is read through RETURNING, or through currval when a sequence is named.
func (c *Conn) Insert(ctx context.Context, b *query.Builder, data map[string]any, returnKey bool) (any, error) {
	returnKey = returnKey && len(b.PK()) == 1
	useReturning := returnKey && b.SequenceName() == ""

	sql, args, err := insertStatement(b, data, useReturning)
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	q := c.GetQuerier(ctx)
	if useReturning {
		var key any
		err := q.QueryRow(ctx, sql, args...).Scan(&key)
		if errors.Is(err, pgx.ErrNoRows) {
			// ON CONFLICT DO NOTHING left the existing row in place.
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", b.Table(), mapError(b.Table(), err))
		}
		return key, nil
	}

	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", b.Table(), mapError(b.Table(), err))
	}
	if !returnKey {
		return nil, nil
	}

	var key any
	if err := q.QueryRow(ctx, "SELECT currval($1::regclass)", b.SequenceName()).Scan(&key); err != nil {
		return nil, fmt.Errorf("read sequence %s: %w", b.SequenceName(), err)
	}
	return key, nil
}

// Update writes data to the rows matching b.
func (c *Conn) Update(ctx context.Context, b *query.Builder, data map[string]any) (int64, error) {
	if len(b.FilterData(data)) == 0 {
		return 0, nil
	}

	sql, args, err := b.ToUpdate(squirrel.Dollar, data).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	tag, err := c.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", b.Table(), mapError(b.Table(), err))
	}
	return tag.RowsAffected(), nil
}

// Delete removes the rows matching b.
func (c *Conn) Delete(ctx context.Context, b *query.Builder) (int64, error) {
	sql, args, err := b.ToDelete(squirrel.Dollar).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tag, err := c.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", b.Table(), mapError(b.Table(), err))
	}
	return tag.RowsAffected(), nil
}

const tableFieldsSQL = `
	SELECT column_name
	FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1
	ORDER BY ordinal_position`

// TableFields returns the columns of table. Results are cached per table.
func (c *Conn) TableFields(ctx context.Context, table string) ([]string, error) {
	if cached, ok := c.fields.Load(table); ok {
		return cached.([]string), nil
	}

	var cols []string
	if err := pgxscan.Select(ctx, c.GetQuerier(ctx), &cols, tableFieldsSQL, table); err != nil {
		return nil, fmt.Errorf("table fields %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, apperror.NewNotFound("table", table)
	}

	c.fields.Store(table, cols)
	return cols, nil
}

func insertStatement(b *query.Builder, data map[string]any, returning bool) (string, []any, error) {
	values := b.FilterData(data)
	q := Builder().Insert(b.Table()).SetMap(values)

	if b.IsReplace() && len(b.PK()) > 0 {
		q = q.Suffix(onConflict(b.PK(), values))
	}
	if returning {
		q = q.Suffix("RETURNING " + b.PK()[0])
	}
	return q.ToSql()
}

// onConflict renders the upsert clause used for replace-inserts.
func onConflict(pk []string, values map[string]any) string {
	isKey := make(map[string]bool, len(pk))
	for _, k := range pk {
		isKey[k] = true
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		if !isKey[col] {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)

	target := "ON CONFLICT (" + strings.Join(pk, ", ") + ")"
	if len(cols) == 0 {
		return target + " DO NOTHING"
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = EXCLUDED." + col
	}
	return target + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// mapError translates constraint violations into application errors.
func mapError(table string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503":
		return apperror.NewConflict(fmt.Sprintf("%s: foreign key violation", table)).
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
	case "23505":
		return apperror.NewDuplicate(table, pgErr.ConstraintName).WithCause(err)
	}
	return err
}
