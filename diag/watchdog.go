// Package diag dumps diagnostics when a report stops making progress.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"mythicwp/logger"
)

const stampLayout = "20060102-150405.000"

type profileSource interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold is how long the hashed-file counter may stay flat
	// before a dump is written. Zero disables stall detection.
	StallThreshold time.Duration
	Dir            string
	// GoroutineDump writes a goroutine profile when the watchdog is closed.
	GoroutineDump bool

	Progress func() int64
	// Busy, when set, reports whether work is in flight. Idle time never
	// counts towards a stall.
	Busy        func() bool
	FlightDump  func(path string) error
	Now         func() time.Time
	profileFunc func(name string) profileSource
}

// Watchdog samples a progress counter and records a stall event, plus the
// flight recorder window, once the counter has not moved for StallThreshold.
type Watchdog struct {
	opts Options

	mu        sync.Mutex
	seen      int64
	movedAt   time.Time
	dumpedAt  time.Time
	stallDump int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatchdog(opts Options) *Watchdog {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.profileFunc == nil {
		opts.profileFunc = func(name string) profileSource {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	return &Watchdog{opts: opts}
}

// Start begins sampling until ctx is done or Close is called.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.opts.StallThreshold <= 0 || w.opts.Progress == nil || w.done != nil {
		return
	}
	w.mu.Lock()
	w.seen = w.opts.Progress()
	w.movedAt = w.opts.Now()
	w.dumpedAt = time.Time{}
	w.mu.Unlock()

	every := min(max(w.opts.StallThreshold/2, 250*time.Millisecond), 2*time.Second)
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.sample(w.opts.Now())
			}
		}
	}()
}

// Close stops sampling and writes the goroutine dump when enabled.
func (w *Watchdog) Close() {
	if w == nil {
		return
	}
	if w.cancel != nil {
		w.cancel()
		<-w.done
		w.cancel = nil
		w.done = nil
	}
	if w.opts.GoroutineDump {
		if _, err := w.writeProfile("goroutine", 2); err != nil {
			logger.Warnf("Goroutine dump failed: %v", err)
		}
	}
}

// Stalls returns how many stall events have been written.
func (w *Watchdog) Stalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stallDump
}

func (w *Watchdog) sample(now time.Time) {
	count := w.opts.Progress()
	idle := w.opts.Busy != nil && !w.opts.Busy()

	w.mu.Lock()
	if idle || count != w.seen || w.movedAt.IsZero() {
		w.seen = count
		w.movedAt = now
		w.mu.Unlock()
		return
	}
	stalled := now.Sub(w.movedAt)
	due := stalled >= w.opts.StallThreshold &&
		(w.dumpedAt.IsZero() || now.Sub(w.dumpedAt) >= w.opts.StallThreshold)
	if due {
		w.dumpedAt = now
		w.stallDump++
	}
	w.mu.Unlock()

	if due {
		if err := w.writeStall(now, count, stalled); err != nil {
			logger.Warnf("Stall dump failed: %v", err)
		}
	}
}

func (w *Watchdog) writeStall(now time.Time, count int64, stalled time.Duration) error {
	if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
		return err
	}
	stamp := now.UTC().Format(stampLayout)
	body, err := json.MarshalIndent(map[string]interface{}{
		"event":        "hash_scan_stalled",
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"files_hashed": count,
		"threshold_ms": w.opts.StallThreshold.Milliseconds(),
		"stalled_ms":   stalled.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.opts.Dir, "mythicwp-stall-"+stamp+".json"), body, 0600); err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"files_hashed": count,
		"stalled":      stalled.String(),
	}).Warn("Hash scan stalled")

	if w.opts.FlightDump != nil {
		if err := w.opts.FlightDump(filepath.Join(w.opts.Dir, "mythicwp-flight-"+stamp+".out")); err != nil {
			logger.Warnf("Flight recorder dump failed: %v", err)
		}
	}
	return nil
}

func (w *Watchdog) writeProfile(name string, debug int) (string, error) {
	profile := w.opts.profileFunc(name)
	if profile == nil {
		return "", fmt.Errorf("profile %q unavailable", name)
	}
	if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(w.opts.Dir, fmt.Sprintf("mythicwp-%s-%s.pprof", name, w.opts.Now().UTC().Format(stampLayout)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
