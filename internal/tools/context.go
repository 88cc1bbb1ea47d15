package tools

import "context"

type contextKey string

const cycleIDKey contextKey = "cycle_id"

// WithCycleID tags the context with the agent cycle that is invoking
// tools, for log correlation.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleIDFromContext extracts the cycle ID. Returns "" if not set.
func CycleIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(cycleIDKey).(string); ok {
		return id
	}
	return ""
}
