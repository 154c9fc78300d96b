package model

import (
	"context"
	"errors"
)

// LazySave merges data and defers the write until Release.
func (r *Record) LazySave(data map[string]any) error {
	if err := r.SetMany(data); err != nil {
		return err
	}
	r.lazy = true
	return nil
}

// CancelLazy drops a pending deferred save.
func (r *Record) CancelLazy() {
	r.lazy = false
}

// Release flushes a pending deferred save. The flush happens at most once:
// the pending flag is cleared before saving, whatever the outcome.
func (r *Record) Release(ctx context.Context) (bool, error) {
	if !r.lazy {
		return false, nil
	}
	r.lazy = false

	ok, err := r.Save(ctx, nil)
	if err != nil {
		r.model.reg.log.WithContext(ctx).Errorw("deferred save failed",
			"model", r.model.def.Name,
			"error", err,
		)
	}
	return ok, err
}

// WithRecord runs fn and then releases r, so a deferred save is flushed even
// when fn fails or panics. A panic is re-raised after the flush.
func WithRecord(ctx context.Context, r *Record, fn func(ctx context.Context, r *Record) error) (err error) {
	defer func() {
		p := recover()
		if _, relErr := r.Release(ctx); relErr != nil {
			err = errors.Join(err, relErr)
		}
		if p != nil {
			panic(p)
		}
	}()
	return fn(ctx, r)
}
