package cache

import (
	"context"

	"flowerbelle/backend/internal/domain"
)

// TransactionCache holds committed transaction detail reads.
//
// Set only fills an empty slot; it never replaces an entry or a tombstone.
// Invalidate overwrites the slot with a tombstone that reads as a miss, so a
// read that loaded the row before a void committed cannot put the old state
// back.
type TransactionCache interface {
	Get(ctx context.Context, id int64) (*domain.TransactionDetail, bool, error)
	Set(ctx context.Context, detail domain.TransactionDetail) error
	Invalidate(ctx context.Context, id int64) error
}

type NoopTransactionCache struct{}

func (NoopTransactionCache) Get(_ context.Context, _ int64) (*domain.TransactionDetail, bool, error) {
	return nil, false, nil
}

func (NoopTransactionCache) Set(_ context.Context, _ domain.TransactionDetail) error {
	return nil
}

func (NoopTransactionCache) Invalidate(_ context.Context, _ int64) error {
	return nil
}
