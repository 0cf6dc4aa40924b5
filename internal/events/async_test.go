package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"flowerbelle/backend/internal/domain"
)

// gatedPublisher blocks every delivery until release is closed.
type gatedPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
	closed  bool
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{release: make(chan struct{})}
}

func (p *gatedPublisher) Publish(ctx context.Context, event domain.SaleEvent) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, event.TransactionNumber)
	return nil
}

func (p *gatedPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func saleEvent(number string) domain.SaleEvent {
	return domain.SaleEvent{Type: domain.EventSaleCompleted, TransactionNumber: number}
}

func TestAsyncPublisherDoesNotWaitForBroker(t *testing.T) {
	inner := newGatedPublisher()
	p := NewAsyncPublisher(inner, 4, zap.NewNop())

	start := time.Now()
	for _, number := range []string{"TXN-20260214-0001", "TXN-20260214-0002"} {
		if err := p.Publish(context.Background(), saleEvent(number)); err != nil {
			t.Fatalf("publish %s: %v", number, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected publish to return immediately, took %s", elapsed)
	}

	close(inner.release)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.got) != 2 || inner.got[0] != "TXN-20260214-0001" || inner.got[1] != "TXN-20260214-0002" {
		t.Fatalf("expected both events delivered in order, got %v", inner.got)
	}
	if !inner.closed {
		t.Fatalf("expected close to reach the wrapped publisher")
	}
}

func TestAsyncPublisherDropsWhenQueueIsFull(t *testing.T) {
	inner := newGatedPublisher()
	p := NewAsyncPublisher(inner, 1, zap.NewNop())
	defer func() {
		close(inner.release)
		_ = p.Close()
	}()

	// One event is held by the worker, one fills the queue.
	var full error
	for i := 0; i < 3; i++ {
		full = p.Publish(context.Background(), saleEvent("TXN-20260214-0001"))
		if full != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !errors.Is(full, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", full)
	}
}

func TestAsyncPublisherRejectsAfterClose(t *testing.T) {
	inner := newGatedPublisher()
	close(inner.release)
	p := NewAsyncPublisher(inner, 1, zap.NewNop())
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := p.Publish(context.Background(), saleEvent("TXN-20260214-0009")); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed, got %v", err)
	}
}
