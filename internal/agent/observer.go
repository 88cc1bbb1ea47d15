package agent

import "context"

// CycleObserver is notified after every completed cycle. Observers run
// synchronously on the cycle's goroutine and should return quickly.
type CycleObserver interface {
	CycleCompleted(ctx context.Context, userMessage string, res *Result)
}

// ObserverFunc adapts a function to CycleObserver.
type ObserverFunc func(ctx context.Context, userMessage string, res *Result)

// CycleCompleted calls f.
func (f ObserverFunc) CycleCompleted(ctx context.Context, userMessage string, res *Result) {
	f(ctx, userMessage, res)
}
