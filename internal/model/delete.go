package model

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/event"
)

// Delete removes the record. With soft delete enabled for its table the row
// is kept and the delete marker is stamped instead, unless Force was set.
// A record that does not exist or has no data is not deleted and Delete
// returns false.
func (r *Record) Delete(ctx context.Context) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "model.delete",
		trace.WithAttributes(
			attribute.String("model", r.model.def.Name),
			attribute.Bool("force", r.force),
		))
	defer span.End()
	started := time.Now()
	defer func() {
		recordSpanError(span, err)
		r.model.observe(ctx, "delete", ok, err, started)
	}()

	if !r.exists || r.state.IsEmpty() {
		return false, nil
	}
	if proceed, err := r.trigger(ctx, event.BeforeDelete); err != nil || !proceed {
		return false, err
	}

	m := r.model
	conn, err := m.reg.conn(r.connection)
	if err != nil {
		return false, err
	}
	info, err := m.tableInfo(ctx, r.connection, conn, m.def.Table+r.suffix)
	if err != nil {
		return false, err
	}

	force := r.force
	if info.SoftDelete && !force {
		err = r.softDelete(ctx, conn)
	} else {
		err = r.hardDelete(ctx, force)
	}
	if err != nil {
		return false, err
	}

	r.fireAfter(ctx, event.AfterDelete)
	r.exists = false
	r.lazy = false
	return true, nil
}

func (r *Record) hardDelete(ctx context.Context, force bool) error {
	m := r.model
	pred, resolved := r.state.ResolveKey(m.def.PK, r.updateWhere)
	if !resolved {
		return apperror.NewMissingKey(m.def.Name, m.def.PK)
	}

	b, conn, err := m.build(ctx, r.plan(ScopeOptions{}))
	if err != nil {
		return err
	}
	b.RemoveSoftDelete().Where(pred)

	return conn.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := conn.Delete(ctx, b); err != nil {
			return err
		}
		return r.cascade(ctx, "delete", func(ctx context.Context, c Cascader) error {
			return c.CascadeDelete(ctx, r, force)
		})
	})
}

// Remove deletes physically when the table has no soft delete, and soft
// deletes otherwise.
func (r *Record) Remove(ctx context.Context) (bool, error) {
	conn, err := r.model.reg.conn(r.connection)
	if err != nil {
		return false, err
	}
	info, err := r.model.tableInfo(ctx, r.connection, conn, r.model.def.Table+r.suffix)
	if err != nil {
		return false, err
	}
	if !info.SoftDelete {
		r.Force(true)
	}
	return r.Delete(ctx)
}

// Refresh reloads the record from its row, soft-deleted or not, and makes the
// loaded data the new snapshot.
func (r *Record) Refresh(ctx context.Context) error {
	m := r.model
	pred, resolved := r.state.ResolveKey(m.def.PK, r.updateWhere)
	if !resolved {
		return apperror.NewMissingKey(m.def.Name, m.def.PK)
	}

	plan := r.plan(ScopeOptions{})
	plan.trashed = trashedInclude
	plan.useScope = false
	b, conn, err := m.build(ctx, plan)
	if err != nil {
		return err
	}
	b.Where(pred).Limit(1)

	rows, err := conn.Select(ctx, b)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return apperror.NewNotFound(m.def.Name, r.Key())
	}

	r.state.Reset(rows[0])
	r.exists = true
	return nil
}
