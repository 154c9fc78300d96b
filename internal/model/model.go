package model

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"

	"metarecord/internal/core/entity"
	"metarecord/internal/core/event"
	"metarecord/internal/core/query"
)

// Model is the handle of one registered definition.
type Model struct {
	reg   *Registry
	def   Definition
	rules []compiledRule

	mu     sync.RWMutex
	tables map[string]*TableInfo // connection + physical table
}

// TableInfo describes a physical table as the model sees it.
type TableInfo struct {
	Table      string
	Fields     []string
	SoftDelete bool
}

// Name returns the model name.
func (m *Model) Name() string { return m.def.Name }

// Definition returns a copy of the normalised definition.
func (m *Model) Definition() Definition { return m.def }

// New creates a record that does not exist in storage yet. data becomes both
// the working data and the snapshot; disused fields are dropped.
func (m *Model) New(data map[string]any) *Record {
	clean := make(map[string]any, len(data))
	for k, v := range data {
		if !slices.Contains(m.def.Disuse, k) {
			clean[k] = v
		}
	}

	r := &Record{
		model:      m,
		state:      entity.NewState(clean),
		connection: m.def.Connection,
		events:     true,
		useScope:   true,
		scopes:     slices.Clone(m.def.GlobalScopes),
		fields:     slices.Clone(m.def.Fields),
		sequence:   m.def.Sequence,
	}
	if len(m.def.RelationWrite) > 0 {
		r.relations = make(map[string][]string, len(m.def.RelationWrite))
		for name, fields := range m.def.RelationWrite {
			r.relations[name] = slices.Clone(fields)
		}
	}
	return r
}

// NewInstance creates a record for a row that already exists, e.g. one read
// from storage, and fires AfterRead. where identifies the row when the key is
// not part of data.
func (m *Model) NewInstance(ctx context.Context, data map[string]any, where squirrel.Sqlizer) *Record {
	r := m.New(data)
	r.exists = true
	r.updateWhere = where
	r.fireAfter(ctx, event.AfterRead)
	return r
}

// On registers a listener for event on this model.
func (m *Model) On(name event.Name, l Listener) {
	m.reg.gate.Listen(m.eventKey(name), l.handler())
}

// Table resolves the physical table behind the default connection, loading
// its columns once.
func (m *Model) Table(ctx context.Context) (*TableInfo, error) {
	conn, err := m.reg.conn(m.def.Connection)
	if err != nil {
		return nil, err
	}
	return m.tableInfo(ctx, m.def.Connection, conn, m.def.Table)
}

func (m *Model) tableInfo(ctx context.Context, connName string, conn query.Conn, table string) (*TableInfo, error) {
	key := connName + "\x00" + table

	m.mu.RLock()
	info, ok := m.tables[key]
	m.mu.RUnlock()
	if ok {
		return info, nil
	}

	fields, err := conn.TableFields(ctx, table)
	if err != nil {
		return nil, err
	}

	soft := slices.Contains(fields, m.def.DeleteTime)
	if m.def.SoftDelete != nil {
		soft = *m.def.SoftDelete
	}
	info = &TableInfo{Table: table, Fields: fields, SoftDelete: soft}

	m.mu.Lock()
	m.tables[key] = info
	m.mu.Unlock()
	return info, nil
}

// timestamp returns the current time in the model's timestamp representation.
func (m *Model) timestamp() any {
	now := m.reg.now()
	switch m.def.TimestampType {
	case TimestampInt:
		return now.Unix()
	case TimestampTime:
		return now
	default:
		return now.Format(m.def.DateFormat)
	}
}

func (m *Model) autoTimestamp() bool {
	return m.def.AutoTimestamp != nil && *m.def.AutoTimestamp
}

func (m *Model) observe(ctx context.Context, op string, ok bool, err error, started time.Time) {
	result := ResultOK
	switch {
	case err != nil:
		result = ResultError
	case !ok:
		result = ResultDeclined
	}
	m.reg.observer.ObserveOperation(ctx, m.def.Name, op, result, time.Since(started))
}
