package model

import (
	"context"

	"metarecord/internal/core/event"
)

// Listener observes a record lifecycle event. Returning event.ErrVeto from a
// "before" event cancels the operation.
type Listener func(ctx context.Context, r *Record) error

func (l Listener) handler() event.Handler {
	return func(ctx context.Context, payload any) (any, error) {
		r, ok := payload.(*Record)
		if !ok {
			return nil, nil
		}
		return nil, l(ctx, r)
	}
}

func (m *Model) eventKey(name event.Name) string {
	return m.def.Name + "." + string(name)
}

func globalKey(name event.Name) string {
	return "db." + string(name)
}

// trigger fires a "before" event. proceed is false when a listener vetoed.
func (r *Record) trigger(ctx context.Context, name event.Name) (proceed bool, err error) {
	if !r.events {
		return true, nil
	}

	m := r.model
	for _, key := range [...]string{m.eventKey(name), globalKey(name)} {
		out, err := m.reg.gate.Fire(ctx, key, r, false)
		if err != nil {
			return false, err
		}
		if out.Vetoed && name.CanVeto() {
			m.reg.log.WithContext(ctx).Debugw("operation vetoed",
				"model", m.def.Name,
				"event", string(name),
			)
			return false, nil
		}
	}
	return true, nil
}

// fireAfter fires an "after" event. Listener outcomes cannot change the
// operation; errors are logged.
func (r *Record) fireAfter(ctx context.Context, name event.Name) {
	if !r.events {
		return
	}

	m := r.model
	for _, key := range [...]string{m.eventKey(name), globalKey(name)} {
		if _, err := m.reg.gate.Fire(ctx, key, r, false); err != nil {
			m.reg.log.WithContext(ctx).Warnw("event listener failed",
				"model", m.def.Name,
				"event", string(name),
				"error", err,
			)
		}
	}
}
