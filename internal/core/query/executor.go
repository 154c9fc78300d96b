package query

import (
	"context"
	"fmt"
	"sync"

	"metarecord/internal/core/tx"
)

// Executor runs compiled builders against one database.
// Implementations must use the transaction carried by ctx when there is one.
type Executor interface {
	// Select returns matching rows as column->value maps.
	Select(ctx context.Context, b *Builder) ([]map[string]any, error)

	// Count returns the number of matching rows.
	Count(ctx context.Context, b *Builder) (int64, error)

	// Insert writes one row. When returnKey is set and the table has a single
	// generated key, the generated value is returned.
	Insert(ctx context.Context, b *Builder, data map[string]any, returnKey bool) (any, error)

	// Update writes data to the rows matching b and returns the affected row count.
	Update(ctx context.Context, b *Builder, data map[string]any) (int64, error)

	// Delete removes the rows matching b and returns the affected row count.
	Delete(ctx context.Context, b *Builder) (int64, error)

	// TableFields returns the column names of table.
	TableFields(ctx context.Context, table string) ([]string, error)
}

// Conn is a database connection: an executor with a transaction boundary.
type Conn interface {
	tx.Manager
	Executor
}

// Connector resolves a connection by name. The empty name is the default connection.
type Connector interface {
	Conn(name string) (Conn, error)
}

// Connections is a fixed set of named connections.
type Connections struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewConnections creates a connector whose default connection is def.
func NewConnections(def Conn) *Connections {
	return &Connections{conns: map[string]Conn{"": def}}
}

// Add registers a named connection.
func (c *Connections) Add(name string, conn Conn) *Connections {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[name] = conn
	return c
}

// Conn implements Connector.
func (c *Connections) Conn(name string) (Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[name]
	if !ok || conn == nil {
		return nil, fmt.Errorf("connection %q is not configured", name)
	}
	return conn, nil
}
