package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/types"
)

// Publisher publishes tick events to an event stream backend.
type Publisher interface {
	PublishTick(ctx context.Context, event *TickEvent) error
	Close() error
}

const defaultQueueSize = 64

// AsyncConfig is the configuration for an Async bridge.
type AsyncConfig struct {
	// Publisher is the backend events are handed to.
	Publisher Publisher

	// QueueSize is the capacity of the buffered event channel (defaults to 64).
	QueueSize int

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Async adapts a Publisher to the capture loop, whose subscribers must not
// block: Notify enqueues and a single goroutine drains to the backend.
type Async struct {
	pub     Publisher
	queue   chan *TickEvent
	wg      sync.WaitGroup
	logger  *zap.Logger
	dropped atomic.Uint64
	once    sync.Once
	closed  atomic.Bool
}

// NewAsync starts the drain goroutine.
func NewAsync(c AsyncConfig) *Async {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	a := &Async{
		pub:    c.Publisher,
		queue:  make(chan *TickEvent, c.QueueSize),
		logger: c.Logger,
	}
	a.wg.Add(1)
	go a.drain()
	return a
}

// Notify enqueues p. When the queue is full the event is dropped.
func (a *Async) Notify(p types.Published) {
	if a.closed.Load() {
		return
	}
	event := NewTickEvent(p)
	select {
	case a.queue <- event:
	default:
		a.dropped.Add(1)
		a.logger.Error("tick event not queued, queue full, event dropped",
			zap.Uint64("tick", p.Tick),
			zap.String("event_id", event.EventID),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Async) drain() {
	defer a.wg.Done()
	for event := range a.queue {
		if err := a.pub.PublishTick(context.Background(), event); err != nil {
			a.logger.Warn("tick event publish failed",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}
		a.logger.Debug("tick event published", zap.String("event_id", event.EventID))
	}
}

// Close stops accepting events, drains what is queued and closes the publisher.
// Notify must not be called concurrently with Close.
func (a *Async) Close() error {
	var err error
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.queue)
		a.wg.Wait()
		err = a.pub.Close()
	})
	return err
}
