package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

func TestInTxRollsBackEveryWriteOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		change, err := tx.DeductStock(ctx, 1, 5)
		if err != nil {
			return err
		}
		if _, err := tx.RecordMovement(ctx, domain.InventoryMovement{
			ProductID: 1, MovementType: domain.MovementSale, Quantity: 5,
			StockBefore: change.Before, StockAfter: change.After,
		}); err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, domain.SalesTransaction{TransactionNumber: "TXN-20260214-0001", Status: domain.TxStatusCompleted}); err != nil {
			return err
		}
		if _, err := tx.InsertAlert(ctx, domain.LowStockAlert{ProductID: 1, Status: domain.AlertPending}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	product, err := s.GetProduct(ctx, 1)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.CurrentStock != 50 {
		t.Fatalf("expected stock rolled back to 50, got %d", product.CurrentStock)
	}
	movements, _ := s.ListMovements(ctx, domain.MovementFilter{})
	if len(movements) != 0 {
		t.Fatalf("expected no movements after rollback, got %d", len(movements))
	}
	txs, _ := s.ListTransactions(ctx, domain.TransactionFilter{})
	if len(txs) != 0 {
		t.Fatalf("expected no transactions after rollback, got %d", len(txs))
	}
	alerts, _ := s.ListAlerts(ctx, domain.AlertFilter{})
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts after rollback, got %d", len(alerts))
	}
}

func TestDeductStockRefusesToGoNegative(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DeductStock(ctx, 1, 51)
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DeductStock(ctx, 999, 1)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestInsertTransactionRejectsDuplicateNumber(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	insert := func() error {
		return s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.InsertTransaction(ctx, domain.SalesTransaction{TransactionNumber: "TXN-20260214-0001", Status: domain.TxStatusCompleted})
			return err
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); !errors.Is(err, store.ErrDuplicateTransactionNumber) {
		t.Fatalf("expected duplicate number error, got %v", err)
	}

	var last int
	_ = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		last, err = tx.LastTransactionSequence(ctx, "TXN-20260214-")
		return err
	})
	if last != 1 {
		t.Fatalf("expected last sequence 1, got %d", last)
	}
}

func TestUpsertCartItemKeepsSnapshotPrice(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cart, err := tx.InsertCart(ctx, domain.Cart{UserID: 2, SessionID: "CART-2-1", IsActive: true})
		if err != nil {
			return err
		}
		if _, err := tx.UpsertCartItem(ctx, domain.CartItem{CartID: cart.ID, ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1200)}); err != nil {
			return err
		}
		_, err = tx.UpsertCartItem(ctx, domain.CartItem{CartID: cart.ID, ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(1500)})
		return err
	})
	if err != nil {
		t.Fatalf("cart writes failed: %v", err)
	}

	cart, err := s.GetActiveCart(ctx, 2)
	if err != nil {
		t.Fatalf("get active cart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("expected one line with quantity 3, got %+v", cart.Items)
	}
	if !cart.Items[0].UnitPrice.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("expected snapshot price 1200 kept, got %s", cart.Items[0].UnitPrice)
	}

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertCart(ctx, domain.Cart{UserID: 2, SessionID: "CART-2-2", IsActive: true})
		return err
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second active cart to conflict, got %v", err)
	}
}

func TestDeleteUserRefusesWhenReferenced(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	staffID := int64(2)

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertTransaction(ctx, domain.SalesTransaction{TransactionNumber: "TXN-20260214-0001", Status: domain.TxStatusCompleted, CreatedBy: &staffID})
		return err
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}

	if err := s.DeleteUser(ctx, staffID); !errors.Is(err, store.ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}
	if err := s.DeleteUser(ctx, 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
