package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowerbelle/backend/internal/domain"
)

var (
	ErrQueueFull       = errors.New("sale event queue is full")
	ErrPublisherClosed = errors.New("sale event publisher is closed")
)

const defaultQueueSize = 256

// AsyncPublisher queues events and hands them to the wrapped publisher from a
// single goroutine, so callers never wait on the broker. Delivery uses its own
// context because the caller's request is usually finished by then.
type AsyncPublisher struct {
	next    Publisher
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan domain.SaleEvent
	done   chan struct{}
}

func NewAsyncPublisher(next Publisher, queueSize int, logger *zap.Logger) *AsyncPublisher {
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AsyncPublisher{
		next:    next,
		logger:  logger.Named("events"),
		timeout: 2 * publishTimeout,
		queue:   make(chan domain.SaleEvent, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues the event. A full queue drops it with ErrQueueFull.
func (p *AsyncPublisher) Publish(_ context.Context, event domain.SaleEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, event); err != nil {
			p.logger.Warn("failed to deliver sale event",
				zap.String("type", event.Type),
				zap.String("transaction_number", event.TransactionNumber),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events, delivers what is queued, then closes the
// wrapped publisher when it can be closed.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	if closer, ok := p.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
