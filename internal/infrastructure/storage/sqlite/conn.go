// Package sqlite provides an embedded SQLite connection for records, built on
// the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"metarecord/internal/core/query"
	"metarecord/internal/core/tx"
	"metarecord/pkg/logger"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var tracer = otel.Tracer("metarecord/sqlite")

var (
	_ tx.Manager = (*Conn)(nil)
	_ query.Conn = (*Conn)(nil)
)

// Conn is a SQLite database with a context-carried transaction.
type Conn struct {
	db     *sql.DB
	fields sync.Map // table -> []string
}

// Open opens the database at dsn. ":memory:" databases are private to a
// single connection, so the pool is pinned to one connection for them.
func Open(ctx context.Context, dsn string) (*Conn, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" || dsn == "" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return New(db), nil
}

// New wraps an open database.
func New(db *sql.DB) *Conn {
	return &Conn{db: db}
}

// DB returns the underlying database.
func (c *Conn) DB() *sql.DB { return c.db }

// Close closes the database.
func (c *Conn) Close() error { return c.db.Close() }

type txKey struct{}

// Tx is a transaction pinned to one pooled connection.
type Tx struct {
	conn *sql.Conn
}

// RunInTransaction executes fn within a transaction.
// If a transaction already exists in ctx, it will be reused.
// A failed COMMIT leaves SQLite inside the transaction, so the dedicated
// connection is rolled back before it returns to the pool.
func (c *Conn) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(attribute.String("db.system", "sqlite")))
	defer span.End()

	if c.GetTx(ctx) != nil {
		return fn(ctx)
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		_ = conn.Close()
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			c.rollback(ctx, conn, err)
		}
		_ = conn.Close()
	}()

	txCtx := context.WithValue(ctx, txKey{}, &Tx{conn: conn})
	if err := fn(txCtx); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// rollback ends the open transaction of conn. A connection that cannot be
// rolled back is discarded instead of being returned to the pool.
func (c *Conn) rollback(ctx context.Context, conn *sql.Conn, cause error) {
	_, err := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
	if err == nil || strings.Contains(err.Error(), "no transaction is active") {
		return
	}
	logger.Error(ctx, "rollback failed", "error", err, "original_error", cause)
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}

// GetTx returns the current transaction from context, or nil if none.
func (c *Conn) GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

// Querier is the subset of database/sql shared by the database and a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetQuerier returns the transaction in ctx or the database.
func (c *Conn) GetQuerier(ctx context.Context) Querier {
	if t := c.GetTx(ctx); t != nil {
		return t.conn
	}
	return c.db
}
