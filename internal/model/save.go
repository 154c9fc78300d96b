package model

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/event"
	"metarecord/internal/core/query"
)

var tracer = otel.Tracer("metarecord/model")

// Sentinels for errors.Is. Every error the pipeline returns for these
// conditions carries model details.
var (
	ErrEmptyData  = apperror.New(apperror.CodeEmptyData, "no data to write")
	ErrMissingKey = apperror.New(apperror.CodeMissingKey, "cannot resolve row predicate")
)

// Save merges data into the record and writes it: an insert when the record
// does not exist yet, otherwise an update of the changed fields only.
//
// A false result with a nil error means the write was declined by a listener.
func (r *Record) Save(ctx context.Context, data map[string]any) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "model.save",
		trace.WithAttributes(attribute.String("model", r.model.def.Name)))
	defer span.End()
	started := time.Now()
	defer func() {
		recordSpanError(span, err)
		r.model.observe(ctx, "save", ok, err, started)
	}()

	if err := r.SetMany(data); err != nil {
		return false, err
	}
	if r.state.IsEmpty() {
		return false, apperror.NewEmptyData(r.model.def.Name)
	}

	if proceed, err := r.trigger(ctx, event.BeforeWrite); err != nil || !proceed {
		return false, err
	}

	if r.exists {
		ok, err = r.update(ctx, updateOptions{})
	} else {
		ok, err = r.insert(ctx)
	}
	if err != nil || !ok {
		return false, err
	}

	r.fireAfter(ctx, event.AfterWrite)
	r.state.Rebaseline()
	r.lazy = false
	return true, nil
}

func (r *Record) insert(ctx context.Context) (ok bool, err error) {
	m := r.model
	def := &m.def

	if proceed, err := r.trigger(ctx, event.BeforeInsert); err != nil || !proceed {
		return false, err
	}
	if err := r.checkData(ctx); err != nil {
		return false, err
	}

	var stamped []string
	if m.autoTimestamp() {
		ts := m.timestamp()
		for _, col := range [...]string{def.CreateTime, def.UpdateTime} {
			if col == "" {
				continue
			}
			if v, ok := r.state.Get(col); !ok || v == nil {
				r.state.Set(col, ts)
				stamped = append(stamped, col)
			}
		}
	}

	singleKey := len(def.PK) == 1
	generated := false
	if singleKey && !r.hasKey() && def.KeyGenerator != nil {
		r.state.Set(def.PK[0], def.KeyGenerator())
		generated = true
	}

	// Values filled by this call are not kept when the insert fails.
	assigned := false
	defer func() {
		if err == nil {
			return
		}
		if assigned || generated {
			r.state.Unset(def.PK[0])
		}
		for _, col := range stamped {
			r.state.Unset(col)
		}
	}()

	plan := r.plan(ScopeOptions{})
	plan.useScope = false
	b, conn, err := m.build(ctx, plan)
	if err != nil {
		return false, err
	}
	allow, err := r.allowFields(ctx, conn, b.Table())
	if err != nil {
		return false, err
	}
	b.Field(allow...).Replace(r.replace).Sequence(r.sequence)

	data := r.state.Data()
	returnKey := singleKey && !r.hasKey()

	err = conn.RunInTransaction(ctx, func(ctx context.Context) error {
		key, err := conn.Insert(ctx, b, data, returnKey)
		if err != nil {
			return err
		}
		if returnKey && key != nil {
			r.state.Set(def.PK[0], key)
			assigned = true
		}
		return r.cascade(ctx, "insert", func(ctx context.Context, c Cascader) error {
			return c.CascadeInsert(ctx, r)
		})
	})
	if err != nil {
		return false, err
	}

	r.exists = true
	r.state.Rebaseline()
	r.fireAfter(ctx, event.AfterInsert)
	return true, nil
}

// updateOptions tunes the update path. A silent update fires no events, runs
// no validation, writes no update timestamp and cascades nothing; soft delete
// uses it to stamp the marker. allow extends the resolved allow-list.
type updateOptions struct {
	silent bool
	allow  []string
}

func (r *Record) update(ctx context.Context, o updateOptions) (bool, error) {
	m := r.model
	def := &m.def

	if !o.silent {
		if proceed, err := r.trigger(ctx, event.BeforeUpdate); err != nil || !proceed {
			return false, err
		}
		if err := r.checkData(ctx); err != nil {
			return false, err
		}
	}

	changed := r.state.Changed()
	for field := range changed {
		if r.readonly(field) {
			delete(changed, field)
		}
	}
	cascades := !o.silent && len(r.relations) > 0

	if len(changed) == 0 {
		if !cascades {
			return true, nil
		}
		conn, err := m.reg.conn(r.connection)
		if err != nil {
			return false, err
		}
		err = conn.RunInTransaction(ctx, func(ctx context.Context) error {
			return r.cascade(ctx, "update", func(ctx context.Context, c Cascader) error {
				return c.CascadeUpdate(ctx, r)
			})
		})
		return err == nil, err
	}

	if !o.silent && m.autoTimestamp() && def.UpdateTime != "" {
		ts := m.timestamp()
		changed[def.UpdateTime] = ts
		r.state.Set(def.UpdateTime, ts)
	}

	for field := range changed {
		if r.relationField(field) {
			delete(changed, field)
		}
	}

	pred, resolved := r.state.ResolveKey(def.PK, r.updateWhere)
	if !resolved {
		return false, apperror.NewMissingKey(def.Name, def.PK)
	}

	plan := r.plan(ScopeOptions{})
	plan.useScope = false
	b, conn, err := m.build(ctx, plan)
	if err != nil {
		return false, err
	}
	allow, err := r.allowFields(ctx, conn, b.Table())
	if err != nil {
		return false, err
	}
	for _, f := range o.allow {
		if !slices.Contains(allow, f) {
			allow = append(allow, f)
		}
	}
	b.Where(pred).Field(allow...)

	err = conn.RunInTransaction(ctx, func(ctx context.Context) error {
		affected, err := conn.Update(ctx, b, changed)
		if err != nil {
			return err
		}
		if err := r.checkResult(ctx, affected); err != nil {
			return err
		}
		if !cascades {
			return nil
		}
		return r.cascade(ctx, "update", func(ctx context.Context, c Cascader) error {
			return c.CascadeUpdate(ctx, r)
		})
	})
	if err != nil {
		return false, err
	}

	if !o.silent {
		r.fireAfter(ctx, event.AfterUpdate)
	}
	return true, nil
}

// allowFields resolves the writable columns: the explicit list, else the
// schema keys, else the table columns. Explicit and schema lists get the
// timestamp columns appended; disused fields are always removed.
func (r *Record) allowFields(ctx context.Context, conn query.Conn, table string) ([]string, error) {
	m := r.model
	def := &m.def

	var fields []string
	switch {
	case len(r.fields) > 0:
		fields = slices.Clone(r.fields)
	case len(def.Schema) > 0:
		fields = make([]string, 0, len(def.Schema)+2)
		for name := range def.Schema {
			fields = append(fields, name)
		}
		slices.Sort(fields)
	default:
		info, err := m.tableInfo(ctx, r.connection, conn, table)
		if err != nil {
			return nil, err
		}
		fields = slices.Clone(info.Fields)
		return slices.DeleteFunc(fields, func(f string) bool {
			return slices.Contains(def.Disuse, f)
		}), nil
	}

	if m.autoTimestamp() {
		for _, col := range [...]string{def.CreateTime, def.UpdateTime} {
			if col != "" && !slices.Contains(fields, col) {
				fields = append(fields, col)
			}
		}
	}
	return slices.DeleteFunc(fields, func(f string) bool {
		return slices.Contains(def.Disuse, f)
	}), nil
}

func (r *Record) hasKey() bool {
	for _, field := range r.model.def.PK {
		v, ok := r.state.Get(field)
		if !ok || v == nil || v == "" {
			return false
		}
	}
	return true
}

func (r *Record) checkData(ctx context.Context) error {
	if err := evalRules(r.model.rules, r.state.Data(), r.exists); err != nil {
		return err
	}
	if r.model.def.CheckData != nil {
		return r.model.def.CheckData(ctx, r)
	}
	return nil
}

func (r *Record) checkResult(ctx context.Context, affected int64) error {
	if r.model.def.CheckResult != nil {
		return r.model.def.CheckResult(ctx, r, affected)
	}
	return nil
}

// cascade runs fn against the model's cascader when the record declares
// relation writes.
func (r *Record) cascade(ctx context.Context, op string, fn func(ctx context.Context, c Cascader) error) error {
	if len(r.relations) == 0 {
		return nil
	}

	name := r.model.def.Name
	c := r.model.def.Cascader
	if c == nil {
		c = r.model.reg.cascader
	}
	if c == nil {
		return apperror.NewInvalidDefinition(name, "relation writes declared without a cascader")
	}

	if err := fn(ctx, c); err != nil {
		r.model.reg.log.WithContext(ctx).Warnw("relation cascade failed",
			"model", name,
			"operation", op,
			"error", err,
		)
		return apperror.NewCascade(name, op, err)
	}
	return nil
}

func recordSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
