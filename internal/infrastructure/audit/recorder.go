// Package audit records committed record changes in the sys_audit table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zstd"

	appctx "metarecord/internal/core/context"
	"metarecord/internal/core/entity"
	"metarecord/internal/core/event"
	"metarecord/internal/core/id"
	"metarecord/internal/core/query"
	"metarecord/internal/model"
	"metarecord/pkg/logger"
)

// Action is the audited operation.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionRestore Action = "restore"
)

// CompressionAlgo specifies how the changes payload is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultTable is the audit table name.
const DefaultTable = "sys_audit"

// SQLiteSchema creates the audit table on SQLite.
const SQLiteSchema = `CREATE TABLE IF NOT EXISTS sys_audit (
	id TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	record_key TEXT NOT NULL,
	action TEXT NOT NULL,
	user_id TEXT,
	changes TEXT,
	changes_compressed BLOB,
	compression_algo TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// PostgresSchema creates the audit table on PostgreSQL.
const PostgresSchema = `CREATE TABLE IF NOT EXISTS sys_audit (
	id UUID PRIMARY KEY,
	model TEXT NOT NULL,
	record_key TEXT NOT NULL,
	action TEXT NOT NULL,
	user_id TEXT,
	changes JSONB,
	changes_compressed BYTEA,
	compression_algo TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sys_audit_record ON sys_audit (model, record_key, id DESC)`

// Entry is a single audit log entry.
type Entry struct {
	ID                string
	Model             string
	RecordKey         string
	Action            Action
	UserID            string
	Changes           json.RawMessage
	ChangesCompressed []byte
	CompressionAlgo   CompressionAlgo
	CreatedAt         time.Time
}

// auditRow is the stored layout of an Entry.
type auditRow struct {
	ID                string `db:"id"`
	Model             string `db:"model"`
	RecordKey         string `db:"record_key"`
	Action            string `db:"action"`
	UserID            string `db:"user_id"`
	Changes           string `db:"changes"`
	ChangesCompressed []byte `db:"changes_compressed"`
	CompressionAlgo   string `db:"compression_algo"`
	CreatedAt         string `db:"created_at"`
}

var auditColumns = entity.Columns[auditRow]()

// Recorder writes audit entries through a record connection. Large change
// sets are compressed with zstd.
type Recorder struct {
	conns      query.Connector
	connection string
	table      string
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
	threshold  int
	now        func() time.Time
	log        *logger.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithConnection writes entries to a named connection instead of the default one.
func WithConnection(name string) Option {
	return func(r *Recorder) { r.connection = name }
}

// WithTable overrides the audit table name.
func WithTable(table string) Option {
	return func(r *Recorder) { r.table = table }
}

// WithCompressThreshold sets the payload size in bytes above which changes are compressed.
func WithCompressThreshold(n int) Option {
	return func(r *Recorder) { r.threshold = n }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the recorder logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// NewRecorder creates a recorder writing through conns.
func NewRecorder(conns query.Connector, opts ...Option) (*Recorder, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	r := &Recorder{
		conns:     conns,
		table:     DefaultTable,
		encoder:   encoder,
		decoder:   decoder,
		threshold: 10 * 1024,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Default()
	}
	r.log = r.log.WithComponent("audit")
	return r, nil
}

// Close releases the codec resources.
func (r *Recorder) Close() {
	_ = r.encoder.Close()
	r.decoder.Close()
}

// Attach records every insert, update, delete and restore of the models in reg.
// Entries are written after the record operation; a failed write is logged and
// does not undo the operation.
func (r *Recorder) Attach(reg *model.Registry) {
	reg.On(event.AfterInsert, r.listener(ActionCreate))
	reg.On(event.AfterUpdate, r.listener(ActionUpdate))
	reg.On(event.AfterDelete, r.listener(ActionDelete))
	reg.On(event.AfterRestore, r.listener(ActionRestore))
}

func (r *Recorder) listener(action Action) model.Listener {
	return func(ctx context.Context, rec *model.Record) error {
		var changes map[string]any
		switch action {
		case ActionCreate:
			changes = Diff(nil, rec.Data())
		case ActionUpdate:
			changes = Diff(rec.Origin(), rec.Data())
		case ActionDelete:
			changes = Diff(rec.Data(), nil)
		case ActionRestore:
			def := rec.Model().Definition()
			changes = map[string]any{def.DeleteTime: map[string]any{"new": def.DefaultSoftDelete}}
		}

		err := r.LogChange(ctx, rec.Model().Name(), recordKey(rec), action, changes)
		if err != nil {
			r.log.WithContext(ctx).Warnw("audit write failed",
				"model", rec.Model().Name(),
				"action", string(action),
				"error", err,
			)
		}
		return err
	}
}

// Log writes one entry.
func (r *Recorder) Log(ctx context.Context, e Entry) error {
	if e.UserID == "" {
		e.UserID = appctx.GetUserID(ctx)
	}
	if e.ID == "" {
		e.ID = id.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	e.CompressionAlgo = CompressionNone
	if len(e.Changes) > r.threshold {
		e.ChangesCompressed = r.encoder.EncodeAll(e.Changes, nil)
		e.Changes = nil
		e.CompressionAlgo = CompressionZstd
	}

	conn, err := r.conns.Conn(r.connection)
	if err != nil {
		return err
	}

	row := entity.FromStruct(auditRow{
		ID:                e.ID,
		Model:             e.Model,
		RecordKey:         e.RecordKey,
		Action:            string(e.Action),
		UserID:            e.UserID,
		Changes:           string(e.Changes),
		ChangesCompressed: e.ChangesCompressed,
		CompressionAlgo:   string(e.CompressionAlgo),
		CreatedAt:         e.CreatedAt.Format(time.RFC3339Nano),
	})
	if e.Changes == nil {
		row["changes"] = nil
	}
	if e.ChangesCompressed == nil {
		row["changes_compressed"] = nil
	}

	if _, err := conn.Insert(ctx, query.New(r.table, "id").Field(auditColumns...), row, false); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// LogChange is a convenience method for logging record changes.
func (r *Recorder) LogChange(ctx context.Context, modelName, key string, action Action, changes map[string]any) error {
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	return r.Log(ctx, Entry{
		Model:     modelName,
		RecordKey: key,
		Action:    action,
		Changes:   changesJSON,
	})
}

// History returns the newest entries of one record first.
func (r *Recorder) History(ctx context.Context, modelName, key string, limit uint64) ([]Entry, error) {
	conn, err := r.conns.Conn(r.connection)
	if err != nil {
		return nil, err
	}

	b := query.New(r.table, "id").
		Where(squirrel.Eq{"model": modelName, "record_key": key}).
		Order("id DESC").
		Limit(limit)
	rows, err := conn.Select(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := r.scan(entity.Attributes(row))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Recorder) scan(row entity.Attributes) (Entry, error) {
	e := Entry{
		ID:              fmt.Sprint(row["id"]),
		Model:           row.GetString("model"),
		RecordKey:       row.GetString("record_key"),
		Action:          Action(row.GetString("action")),
		UserID:          row.GetString("user_id"),
		CompressionAlgo: CompressionAlgo(row.GetString("compression_algo")),
	}

	switch v := row["created_at"].(type) {
	case time.Time:
		e.CreatedAt = v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return e, fmt.Errorf("parse audit time: %w", err)
		}
		e.CreatedAt = t
	}

	switch v := row["changes"].(type) {
	case string:
		e.Changes = json.RawMessage(v)
	case []byte:
		e.Changes = json.RawMessage(v)
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return e, fmt.Errorf("encode changes: %w", err)
		}
		e.Changes = raw
	}

	if e.CompressionAlgo == CompressionZstd {
		compressed, _ := row["changes_compressed"].([]byte)
		decompressed, err := r.decoder.DecodeAll(compressed, nil)
		if err != nil {
			return e, fmt.Errorf("decompress changes: %w", err)
		}
		e.Changes = decompressed
	}
	return e, nil
}

// Diff returns the fields that differ between two states as
// field -> {"old": ..., "new": ...}.
func Diff(oldState, newState map[string]any) map[string]any {
	changes := make(map[string]any)
	for key, newVal := range newState {
		oldVal, exists := oldState[key]
		if !exists || !entity.Equal(oldVal, newVal) {
			changes[key] = map[string]any{"old": oldVal, "new": newVal}
		}
	}
	for key, oldVal := range oldState {
		if _, exists := newState[key]; !exists {
			changes[key] = map[string]any{"old": oldVal, "new": nil}
		}
	}
	return changes
}

func recordKey(rec *model.Record) string {
	pk := rec.Model().Definition().PK
	data := rec.Data()
	if len(pk) == 1 {
		if v := data[pk[0]]; v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	parts := make([]string, 0, len(pk))
	for _, f := range pk {
		parts = append(parts, f+"="+fmt.Sprint(data[f]))
	}
	return strings.Join(parts, ",")
}
