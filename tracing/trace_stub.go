//go:build !trace

package tracing

import "context"

// DefaultTraceFile receives the execution trace when no path is given.
const DefaultTraceFile = "mythicwp-trace.out"

// Start is a no-op unless built with the trace tag.
func Start(path string) error {
	return nil
}

func Stop() {}

func StartTask(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}

func StartRegion(ctx context.Context, name string) func() {
	return func() {}
}

func Log(ctx context.Context, category, message string) {}
