// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed = errors.New("event bus is shutting down")
	ErrBusFull   = errors.New("event channel full")
)

const DefaultBufferSize = 256

// Bus is an in-memory asynchronous event bus. Publish never blocks: when the
// buffer is full the event is dropped.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]Handler
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	// deliverCtx is what handlers run on. Shutdown cancels it only when its
	// own deadline expires.
	deliverCtx    context.Context
	deliverCancel context.CancelFunc
	wg            sync.WaitGroup
	events chan Event

	published uint64
	dropped   uint64
}

// BusStats is a point-in-time view of the bus.
type BusStats struct {
	BufferSize      int            `json:"buffer_size"`
	Pending         int            `json:"pending"`
	Published       uint64         `json:"published"`
	Dropped         uint64         `json:"dropped"`
	HandlersPerType map[string]int `json:"handlers_per_type"`
}

// NewBus creates a bus and starts its dispatch loop.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	deliverCtx, deliverCancel := context.WithCancel(context.Background())
	b := &Bus{
		handlers:      make(map[EventType]map[string]Handler),
		logger:        logger.Named("event-bus"),
		ctx:           ctx,
		cancel:        cancel,
		deliverCtx:    deliverCtx,
		deliverCancel: deliverCancel,
		events:        make(chan Event, bufferSize),
	}

	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{id: id, bus: b, typ: eventType}
}

// SubscribeFunc subscribes a plain function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish enqueues an event for asynchronous delivery.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	select {
	case b.events <- event:
		b.mu.Lock()
		b.published++
		b.mu.Unlock()
		return nil
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBusFull
	}
}

// PublishSync delivers an event to all handlers of its type and waits for them.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make(map[string]Handler, len(b.handlers[event.Type()]))
	for id, h := range b.handlers[event.Type()] {
		handlers[id] = h
	}
	b.mu.RUnlock()

	var errs []error
	for id, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d handlers failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			// Шаг 1: доставляем то, что осталось в буфере
			for {
				select {
				case event := <-b.events:
					_ = b.PublishSync(b.deliverCtx, event)
				default:
					return
				}
			}
		case event := <-b.events:
			b.wg.Add(1)
			go func(e Event) {
				defer b.wg.Done()
				_ = b.PublishSync(b.deliverCtx, e)
			}(event)
		}
	}
}

func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}
}

// Shutdown stops accepting events, drains the buffer and waits for in-flight
// deliveries. When ctx expires first, running handlers are cancelled.
func (b *Bus) Shutdown(ctx context.Context) error {
	defer b.deliverCancel()
	b.logger.Info("Shutting down event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		BufferSize:      cap(b.events),
		Pending:         len(b.events),
		Published:       b.published,
		Dropped:         b.dropped,
		HandlersPerType: make(map[string]int, len(b.handlers)),
	}
	for eventType, handlers := range b.handlers {
		stats.HandlersPerType[string(eventType)] = len(handlers)
	}
	return stats
}
