package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// DefaultQueueSize is the capacity of the dispatcher's posting queue
const DefaultQueueSize = 256

// Event is one entry of the event stream
type Event struct {
	Name   string
	Data   json.RawMessage
	Origin domain.Origin

	// run is set for work posted with Do
	run func(ctx context.Context)
}

// Handler reacts to one event. A returned error is logged; it does not stop
// delivery to the remaining handlers.
type Handler func(ctx context.Context, evt Event) error

type registration struct {
	id int
	fn Handler
}

// Dispatcher routes events to handlers registered per event name. Handlers
// run in registration order on the goroutine calling Emit.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   int

	queue chan Event
	log   *slog.Logger
}

// NewDispatcher creates a dispatcher whose Post queue holds size events
func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		handlers: make(map[string][]registration),
		queue:    make(chan Event, size),
		log:      logger.For("dispatcher"),
	}
}

// On registers h for event. off removes exactly this registration.
func (d *Dispatcher) On(event string, h Handler) (off func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[event] = append(d.handlers[event], registration{id: id, fn: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(event, id) })
	}
}

func (d *Dispatcher) remove(event string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[event]
	for i, r := range regs {
		if r.id == id {
			// copy so an Emit iterating the old slice is unaffected
			next := make([]registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			d.handlers[event] = next
			break
		}
	}
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// Emit delivers evt synchronously and returns the number of handlers invoked
func (d *Dispatcher) Emit(ctx context.Context, evt Event) int {
	if evt.Origin == "" {
		evt.Origin = domain.OriginRemote
	}
	if evt.run != nil {
		d.invoke(ctx, func(ctx context.Context, _ Event) error {
			evt.run(ctx)
			return nil
		}, evt)
	}
	d.mu.RLock()
	regs := d.handlers[evt.Name]
	d.mu.RUnlock()

	for _, r := range regs {
		d.invoke(ctx, r.fn, evt)
	}
	if evt.run != nil {
		return len(regs) + 1
	}
	return len(regs)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("handler panicked",
				slog.String("event", evt.Name), slog.Any("panic", p))
		}
	}()
	if err := h(ctx, evt); err != nil {
		d.log.Warn("handler failed",
			slog.String("event", evt.Name), slog.String("origin", string(evt.Origin)), slog.Any("error", err))
	}
}

// Handlers returns the number of handlers registered for event
func (d *Dispatcher) Handlers(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// Post queues evt for the event loop. It blocks while the queue is full and
// reports false when ctx ends first.
func (d *Dispatcher) Post(ctx context.Context, evt Event) bool {
	select {
	case d.queue <- evt:
		return true
	case <-ctx.Done():
		d.log.Warn("event dropped", slog.String("event", evt.Name), slog.Any("error", ctx.Err()))
		return false
	}
}

// Queue returns posted events, drained by the event loop
func (d *Dispatcher) Queue() <-chan Event {
	return d.queue
}

// Echo posts a local change so that every consumer of the stream sees it
func (d *Dispatcher) Echo(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("failed to encode echo", slog.String("event", event), slog.Any("error", err))
		return
	}
	d.Post(ctx, Event{Name: event, Data: data, Origin: domain.OriginLocal})
}

// Do runs fn on the event loop, in order with the events posted before it,
// and waits until it returns. It must not be called from the event loop.
func (d *Dispatcher) Do(ctx context.Context, name string, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	evt := Event{Name: name, Origin: domain.OriginLocal, run: func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}}
	if !d.Post(ctx, evt) {
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
