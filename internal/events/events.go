package events

import (
	"context"

	"flowerbelle/backend/internal/domain"
)

// Publisher delivers sale events to downstream consumers such as demand
// forecasting. Publishing happens after commit and never affects the sale.
type Publisher interface {
	Publish(ctx context.Context, event domain.SaleEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.SaleEvent) error {
	return nil
}
