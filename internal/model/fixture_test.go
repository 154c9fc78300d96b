package model

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/require"

	"metarecord/internal/core/query"
	"metarecord/internal/infrastructure/storage/sqlite"
	"metarecord/pkg/logger"
)

var fixedNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

const usersDDL = `CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT,
	age INTEGER,
	tenant_id INTEGER,
	create_time TEXT,
	update_time TEXT,
	delete_time TEXT
)`

const tagsDDL = `CREATE TABLE tags (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL UNIQUE
)`

const membersDDL = `CREATE TABLE members (
	org_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT,
	PRIMARY KEY (org_id, user_id)
)`

// countingConn records every data statement issued through the connection.
// Column lookups are metadata and are not counted.
type countingConn struct {
	query.Conn

	mu        sync.Mutex
	calls     []string
	inserts   []map[string]any
	updates   []map[string]any
	commitErr error
}

type outerTxKey struct{}

// FailCommit makes the next outermost transactions fail after their body
// succeeded, rolling back everything the body wrote.
func (c *countingConn) FailCommit(err error) {
	c.mu.Lock()
	c.commitErr = err
	c.mu.Unlock()
}

func (c *countingConn) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	commitErr := c.commitErr
	c.mu.Unlock()
	if commitErr == nil || ctx.Value(outerTxKey{}) != nil {
		return c.Conn.RunInTransaction(ctx, fn)
	}
	return c.Conn.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := fn(context.WithValue(ctx, outerTxKey{}, true)); err != nil {
			return err
		}
		return commitErr
	})
}

func (c *countingConn) record(op string) {
	c.mu.Lock()
	c.calls = append(c.calls, op)
	c.mu.Unlock()
}

func (c *countingConn) Select(ctx context.Context, b *query.Builder) ([]map[string]any, error) {
	c.record("select")
	return c.Conn.Select(ctx, b)
}

func (c *countingConn) Count(ctx context.Context, b *query.Builder) (int64, error) {
	c.record("count")
	return c.Conn.Count(ctx, b)
}

func (c *countingConn) Insert(ctx context.Context, b *query.Builder, data map[string]any, returnKey bool) (any, error) {
	c.record("insert")
	c.mu.Lock()
	c.inserts = append(c.inserts, b.FilterData(data))
	c.mu.Unlock()
	return c.Conn.Insert(ctx, b, data, returnKey)
}

func (c *countingConn) Update(ctx context.Context, b *query.Builder, data map[string]any) (int64, error) {
	c.record("update")
	c.mu.Lock()
	c.updates = append(c.updates, b.FilterData(data))
	c.mu.Unlock()
	return c.Conn.Update(ctx, b, data)
}

func (c *countingConn) Delete(ctx context.Context, b *query.Builder) (int64, error) {
	c.record("delete")
	return c.Conn.Delete(ctx, b)
}

func (c *countingConn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *countingConn) LastUpdate() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.updates) == 0 {
		return nil
	}
	return c.updates[len(c.updates)-1]
}

func (c *countingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
	c.inserts = nil
	c.updates = nil
}

type fixture struct {
	ctx  context.Context
	db   *sqlite.Conn
	conn *countingConn
	reg  *Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, ddl := range []string{usersDDL, tagsDDL, membersDDL} {
		_, err := db.DB().ExecContext(ctx, ddl)
		require.NoError(t, err)
	}

	cc := &countingConn{Conn: db}
	base := []Option{
		WithLogger(logger.NewNop()),
		WithClock(func() time.Time { return fixedNow }),
	}
	reg := NewRegistry(query.NewConnections(cc), append(base, opts...)...)
	return &fixture{ctx: ctx, db: db, conn: cc, reg: reg}
}

func (f *fixture) users(t *testing.T, mutate ...func(*Definition)) *Model {
	t.Helper()
	def := Definition{
		Name:          "user",
		Table:         "users",
		AutoTimestamp: Bool(true),
	}
	for _, fn := range mutate {
		fn(&def)
	}
	m, err := f.reg.Register(def)
	require.NoError(t, err)
	return m
}

// seed inserts rows directly, bypassing the pipeline.
func (f *fixture) seed(t *testing.T, table string, rows ...map[string]any) {
	t.Helper()
	for _, row := range rows {
		_, err := f.db.Insert(f.ctx, query.New(table), row, false)
		require.NoError(t, err)
	}
}

// row reads a row directly, soft-deleted or not.
func (f *fixture) row(t *testing.T, table string, id any) map[string]any {
	t.Helper()
	rows, err := f.db.Select(f.ctx, query.New(table).Where(eqID(id)))
	require.NoError(t, err)
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

type fakeCascader struct {
	mu        sync.Mutex
	calls     []string
	failOn    string
	failError error
}

func (c *fakeCascader) do(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, op)
	if op == c.failOn {
		return c.failError
	}
	return nil
}

func (c *fakeCascader) CascadeInsert(context.Context, *Record) error { return c.do("insert") }
func (c *fakeCascader) CascadeUpdate(context.Context, *Record) error { return c.do("update") }
func (c *fakeCascader) CascadeDelete(_ context.Context, _ *Record, force bool) error {
	if force {
		return c.do("delete:force")
	}
	return c.do("delete")
}

func eqID(id any) squirrel.Eq { return squirrel.Eq{"id": id} }
