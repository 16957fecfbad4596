package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/ridematch/internal/dispatch/domain"
)

// Listener observes a single event. Listeners run on the emitting goroutine
// and must return quickly.
type Listener func(ctx context.Context, evt domain.Event)

// Publisher forwards events to an external system.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Bus is a registry of listener closures. It satisfies the emitter interfaces
// of the dispatcher and the cache.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *zap.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers l for every subsequent event.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Attach subscribes a publisher. Publish failures are logged and dropped.
func (b *Bus) Attach(name string, p Publisher) {
	logger := b.logger.With(zap.String("sink", name))
	b.Subscribe(func(ctx context.Context, evt domain.Event) {
		if err := p.Publish(ctx, evt); err != nil {
			logger.Warn("publish event failed", zap.String("event_type", string(evt.Type)), zap.Error(err))
		}
	})
}

// Emit delivers evt to every listener in subscription order.
func (b *Bus) Emit(ctx context.Context, evt domain.Event) {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, evt)
	}
}
