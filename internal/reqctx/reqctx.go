// Package reqctx carries the acting user and trace id down the call chain.
package reqctx

import "context"

// SystemActor is stamped when no user is attached, e.g. saga calls between services.
const SystemActor = "system"

type contextKey string

const (
	actorKey contextKey = "actor_id"
	traceKey contextKey = "trace_id"
)

func WithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actorID)
}

// Actor returns the acting user id, or SystemActor.
func Actor(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey).(string); ok && id != "" {
		return id
	}
	return SystemActor
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey, traceID)
}

func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey).(string); ok {
		return id
	}
	return ""
}

// AsSystem drops the acting user from ctx, keeping the trace id, the way a
// call between services arrives.
func AsSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, actorKey, SystemActor)
}
