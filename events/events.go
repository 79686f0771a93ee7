// Package events routes lifecycle events to the handlers subscribed to them
// and drives the periodic liveness tick.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mythicwp/logger"
)

type Event string

const (
	EventActivate     Event = "activate"
	EventDeactivate   Event = "deactivate"
	EventCronTick     Event = "cron_tick"
	EventReportServed Event = "report_served"
)

// Handler reacts to an event that happened at the given time.
type Handler func(ctx context.Context, at time.Time) error

// Dispatcher holds the subscription table. Handlers run synchronously in
// subscription order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Event][]Handler)}
}

func (d *Dispatcher) Subscribe(ev Event, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[ev] = append(d.handlers[ev], h)
}

// Subscribed returns the number of handlers registered for ev.
func (d *Dispatcher) Subscribed(ev Event) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[ev])
}

// Fire runs every handler for ev. A failing handler does not stop the
// others; all failures are returned joined.
func (d *Dispatcher) Fire(ctx context.Context, ev Event, at time.Time) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[ev]...)
	d.mu.RUnlock()

	var errs []error
	for i, h := range handlers {
		if err := h(ctx, at); err != nil {
			logger.WithFields(map[string]interface{}{
				"event":   string(ev),
				"handler": i,
				"error":   err,
			}).Warn("Event handler failed")
			errs = append(errs, fmt.Errorf("%s handler %d: %w", ev, i, err))
		}
	}
	return errors.Join(errs...)
}
