// Package event provides the lifecycle event gate: named events, ordered
// handlers and the veto signal that cancels an operation in flight.
package event

import (
	"context"
	"errors"
	"sync"
)

// Name is a lifecycle event name.
type Name string

const (
	BeforeWrite   Name = "before_write"
	AfterWrite    Name = "after_write"
	BeforeInsert  Name = "before_insert"
	AfterInsert   Name = "after_insert"
	BeforeUpdate  Name = "before_update"
	AfterUpdate   Name = "after_update"
	BeforeDelete  Name = "before_delete"
	AfterDelete   Name = "after_delete"
	BeforeRestore Name = "before_restore"
	AfterRestore  Name = "after_restore"
	AfterRead     Name = "after_read"
)

// CanVeto reports whether a veto from this event cancels the operation.
// Only "before" events can.
func (n Name) CanVeto() bool {
	switch n {
	case BeforeWrite, BeforeInsert, BeforeUpdate, BeforeDelete, BeforeRestore:
		return true
	}
	return false
}

// ErrVeto is returned by a handler to cancel the pending operation.
// It is a signal, not a failure: Fire reports it through Outcome.Vetoed.
var ErrVeto = errors.New("event: operation vetoed")

// Handler observes an event. A non-nil returned value replaces the payload seen
// by later handlers. Returning ErrVeto stops the chain.
type Handler func(ctx context.Context, payload any) (any, error)

// Outcome is the result of firing an event.
type Outcome struct {
	Vetoed  bool
	Payload any
}

// Gate dispatches events to handlers in registration order.
type Gate struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{handlers: make(map[string][]Handler)}
}

// Listen registers h for key.
func (g *Gate) Listen(key string, h Handler) {
	if h == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[key] = append(g.handlers[key], h)
}

// Fire runs the handlers of key. The first ErrVeto short-circuits the rest and
// yields Outcome{Vetoed: true}. Any other error aborts the chain and is returned.
// When once is set, Fire returns after the first handler that produces a value.
func (g *Gate) Fire(ctx context.Context, key string, payload any, once bool) (Outcome, error) {
	g.mu.RLock()
	hs := append([]Handler(nil), g.handlers[key]...)
	g.mu.RUnlock()

	out := Outcome{Payload: payload}
	for _, h := range hs {
		v, err := h(ctx, out.Payload)
		if errors.Is(err, ErrVeto) {
			out.Vetoed = true
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if v != nil {
			out.Payload = v
			if once {
				return out, nil
			}
		}
	}
	return out, nil
}
