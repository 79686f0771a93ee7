//go:build trace

package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

// DefaultTraceFile receives the execution trace when no path is given.
const DefaultTraceFile = "mythicwp-trace.out"

var traceFile *os.File

// Start enables runtime tracing into path.
func Start(path string) error {
	if path == "" {
		path = DefaultTraceFile
	}
	var err error
	traceFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := trace.Start(traceFile); err != nil {
		traceFile.Close()
		traceFile = nil
		return err
	}
	return nil
}

func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
		traceFile = nil
	}
}

// StartTask groups the regions of one report under a named task.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

func StartRegion(ctx context.Context, name string) func() {
	region := trace.StartRegion(ctx, name)
	return region.End
}

func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
