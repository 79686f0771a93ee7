package tracing

import (
	"os"
	"runtime/trace"
	"sync"
	"time"
)

var (
	recorderMu     sync.Mutex
	flightRecorder *trace.FlightRecorder
)

// StartFlightRecorder keeps the last window of execution trace in memory so
// a slow report or deep-hash scan can be captured after the fact.
func StartFlightRecorder(maxBytes uint64, minAge time.Duration) error {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	if flightRecorder != nil {
		return nil
	}
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MaxBytes: maxBytes,
		MinAge:   minAge,
	})
	if err := fr.Start(); err != nil {
		return err
	}
	flightRecorder = fr
	return nil
}

func StopFlightRecorder() {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	if flightRecorder != nil {
		flightRecorder.Stop()
		flightRecorder = nil
	}
}

// FlightRecorderRunning reports whether a recorder is active.
func FlightRecorderRunning() bool {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	return flightRecorder != nil && flightRecorder.Enabled()
}

// WriteFlightRecorder writes the current window to path. It does nothing when
// no recorder is running.
func WriteFlightRecorder(path string) error {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	if flightRecorder == nil || !flightRecorder.Enabled() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = flightRecorder.WriteTo(f)
	return err
}
