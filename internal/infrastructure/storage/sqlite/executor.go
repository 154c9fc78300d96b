package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/query"
	"metarecord/pkg/logger"
)

// Select returns the rows matching b.
func (c *Conn) Select(ctx context.Context, b *query.Builder) ([]map[string]any, error) {
	sqlStr, args, err := b.ToSelect(squirrel.Question).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := c.GetQuerier(ctx).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", b.Table(), err)
	}
	defer func() { _ = rows.Close() }()

	out, err := scanMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", b.Table(), err)
	}
	return out, nil
}

// Count returns the number of rows matching b.
func (c *Conn) Count(ctx context.Context, b *query.Builder) (int64, error) {
	sqlStr, args, err := b.ToCount(squirrel.Question).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	if err := c.GetQuerier(ctx).QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", b.Table(), err)
	}
	return n, nil
}

// Insert writes one row. REPLACE is native to SQLite. The generated key is the
// rowid; sequence names have no meaning here and are ignored.
func (c *Conn) Insert(ctx context.Context, b *query.Builder, data map[string]any, returnKey bool) (any, error) {
	sqlStr, args, err := b.ToInsert(squirrel.Question, data).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	res, err := c.GetQuerier(ctx).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", b.Table(), err)
	}
	if !returnKey || len(b.PK()) != 1 {
		return nil, nil
	}
	if seq := b.SequenceName(); seq != "" {
		logger.Debug(ctx, "sqlite ignores sequence hint", "table", b.Table(), "sequence", seq)
	}

	key, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id %s: %w", b.Table(), err)
	}
	return key, nil
}

// Update writes data to the rows matching b.
func (c *Conn) Update(ctx context.Context, b *query.Builder, data map[string]any) (int64, error) {
	if len(b.FilterData(data)) == 0 {
		return 0, nil
	}

	sqlStr, args, err := b.ToUpdate(squirrel.Question, data).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	res, err := c.GetQuerier(ctx).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", b.Table(), err)
	}
	return res.RowsAffected()
}

// Delete removes the rows matching b.
func (c *Conn) Delete(ctx context.Context, b *query.Builder) (int64, error) {
	sqlStr, args, err := b.ToDelete(squirrel.Question).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	res, err := c.GetQuerier(ctx).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", b.Table(), err)
	}
	return res.RowsAffected()
}

// TableFields returns the columns of table in declaration order. Results are
// cached per table.
func (c *Conn) TableFields(ctx context.Context, table string) ([]string, error) {
	if cached, ok := c.fields.Load(table); ok {
		return cached.([]string), nil
	}

	rows, err := c.GetQuerier(ctx).QueryContext(ctx,
		"SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("table fields %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table fields %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, apperror.NewNotFound("table", table)
	}

	c.fields.Store(table, cols)
	return cols, nil
}

func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
