package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext carries correlation identifiers for one unit of work, e.g. a
// CLI command or a batch of record operations.
type TraceContext struct {
	TraceID   string
	RequestID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, t *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, t)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetRequestID returns request ID from context or empty string.
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// NewTraceContext creates identifiers for a new unit of work. The trace ID is
// taken from the active span of ctx when there is one.
func NewTraceContext(ctx context.Context) *TraceContext {
	t := &TraceContext{RequestID: uuid.NewString()}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		t.TraceID = sc.TraceID().String()
	} else {
		t.TraceID = uuid.NewString()
	}
	return t
}
