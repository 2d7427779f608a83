// Package events provides the fire-and-forget notification channel the
// governance engine emits on: proposal announcements and escalation
// outcomes. Consumers are advisory only and must never affect control flow.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/concordhq/concord/pkg/contracts"
)

// Dispatcher delivers governance events to interested consumers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event contracts.Event)
}

// Handler consumes one event. Handlers must not block; panics are recovered
// and logged.
type Handler func(ctx context.Context, event contracts.Event)

// InProcessDispatcher fans events out to registered handlers synchronously,
// isolating the caller from handler failures.
type InProcessDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
	logger   *slog.Logger
}

func NewInProcessDispatcher(logger *slog.Logger) *InProcessDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessDispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one event name.
func (d *InProcessDispatcher) Subscribe(eventName string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventName] = append(d.handlers[eventName], h)
}

// SubscribeAll registers a handler for every event.
func (d *InProcessDispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

// Dispatch delivers the event to every matching handler. Handler errors and
// panics never propagate to the emitting code path.
func (d *InProcessDispatcher) Dispatch(ctx context.Context, event contracts.Event) {
	d.mu.RLock()
	targets := make([]Handler, 0, len(d.all)+len(d.handlers[event.EventName()]))
	targets = append(targets, d.all...)
	targets = append(targets, d.handlers[event.EventName()]...)
	d.mu.RUnlock()

	for _, h := range targets {
		d.invoke(ctx, h, event)
	}
}

func (d *InProcessDispatcher) invoke(ctx context.Context, h Handler, event contracts.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"event", event.EventName(), "panic", r)
		}
	}()
	h(ctx, event)
}
