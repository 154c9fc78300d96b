package model

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/event"
	"metarecord/internal/core/query"
)

// visibleCondition matches rows that are not soft deleted.
func (m *Model) visibleCondition() squirrel.Sqlizer {
	return squirrel.Eq{m.def.DeleteTime: m.def.DefaultSoftDelete}
}

// trashedCondition matches soft-deleted rows only.
func (m *Model) trashedCondition() squirrel.Sqlizer {
	return squirrel.NotEq{m.def.DeleteTime: m.def.DefaultSoftDelete}
}

// softDelete stamps the delete marker through the update path with events,
// timestamps and update cascades off, then cascades the delete, all in one
// transaction. The snapshot moves only after the transaction committed; on
// failure the marker is put back.
func (r *Record) softDelete(ctx context.Context, conn query.Conn) error {
	marker := r.model.def.DeleteTime
	prev, had := r.state.Get(marker)

	r.state.Set(marker, r.model.timestamp())

	err := conn.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := r.update(ctx, updateOptions{silent: true, allow: []string{marker}}); err != nil {
			return err
		}
		return r.cascade(ctx, "delete", func(ctx context.Context, c Cascader) error {
			return c.CascadeDelete(ctx, r, false)
		})
	})
	if err != nil {
		if had {
			r.state.Set(marker, prev)
		} else {
			r.state.Unset(marker)
		}
		return err
	}

	r.state.Rebaseline()
	return nil
}

// Restore clears the soft-delete marker of the rows matching where, or of
// this record when where is nil. It returns false when soft delete is not
// enabled for the table or a listener vetoed.
func (r *Record) Restore(ctx context.Context, where squirrel.Sqlizer) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "model.restore")
	span.SetAttributes(attribute.String("model", r.model.def.Name))
	defer span.End()
	started := time.Now()
	defer func() {
		recordSpanError(span, err)
		r.model.observe(ctx, "restore", ok, err, started)
	}()

	conn, err := r.model.reg.conn(r.connection)
	if err != nil {
		return false, err
	}
	info, err := r.model.tableInfo(ctx, r.connection, conn, r.model.def.Table+r.suffix)
	if err != nil {
		return false, err
	}
	if !info.SoftDelete {
		return false, nil
	}

	if proceed, err := r.trigger(ctx, event.BeforeRestore); err != nil || !proceed {
		return false, err
	}

	own := where == nil
	if own {
		pred, resolved := r.ownKey()
		if !resolved {
			return false, apperror.NewMissingKey(r.model.def.Name, r.model.def.PK)
		}
		where = pred
	}

	plan := r.plan(ScopeOptions{SkipModel: true})
	plan.trashed = trashedOnly
	b, conn, err := r.model.build(ctx, plan)
	if err != nil {
		return false, err
	}
	b.Where(where)

	marker := r.model.def.DeleteTime
	var affected int64
	err = conn.RunInTransaction(ctx, func(ctx context.Context) error {
		n, err := conn.Update(ctx, b, map[string]any{marker: r.model.def.DefaultSoftDelete})
		if err != nil {
			return fmt.Errorf("restore %s: %w", r.model.def.Name, err)
		}
		affected = n
		return nil
	})
	if err != nil {
		return false, err
	}

	if own && affected > 0 {
		r.state.Sync(marker, r.model.def.DefaultSoftDelete)
		r.exists = true
	}

	r.fireAfter(ctx, event.AfterRestore)
	return true, nil
}

// ownKey identifies the record's row by the working key values.
func (r *Record) ownKey() (squirrel.Sqlizer, bool) {
	eq := squirrel.Eq{}
	for _, field := range r.model.def.PK {
		if v, ok := r.state.Get(field); ok && v != nil {
			eq[field] = v
		}
	}
	if len(eq) == 0 {
		return nil, false
	}
	return eq, true
}
