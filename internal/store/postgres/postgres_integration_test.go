package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("FLOWERBELLE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FLOWERBELLE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, 4)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedProduct(t *testing.T, s *Store, stock int) domain.Product {
	t.Helper()
	ctx := context.Background()
	sku := fmt.Sprintf("FLW-IT-%d", time.Now().UnixNano())

	var created *domain.Product
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.InsertProduct(ctx, domain.Product{
			SKU:          sku,
			Name:         "Integration Peony",
			UnitPrice:    decimal.RequireFromString("250.00"),
			CostPrice:    decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
			CurrentStock: stock,
			ReorderLevel: domain.DefaultReorderLevel,
			IsActive:     true,
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, created.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM low_stock_alerts WHERE product_id = $1`, created.ID)
		_, _ = s.db.ExecContext(ctx, `
			DELETE FROM sales_transactions
			WHERE id IN (SELECT transaction_id FROM transaction_items WHERE product_id = $1)
		`, created.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, created.ID)
	})
	return *created
}

func TestDeductStockIsConditional(t *testing.T) {
	s := newIntegrationStore(t)
	product := seedProduct(t, s, 5)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DeductStock(ctx, product.ID, 6)
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var change domain.StockChange
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		change, err = tx.DeductStock(ctx, product.ID, 5)
		return err
	})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if change.Before != 5 || change.After != 0 {
		t.Fatalf("expected 5 -> 0, got %d -> %d", change.Before, change.After)
	}
}

func TestDuplicateTransactionNumberKeepsUnitUsable(t *testing.T) {
	s := newIntegrationStore(t)
	product := seedProduct(t, s, 10)
	ctx := context.Background()
	number := fmt.Sprintf("TXN-IT-%d", time.Now().UnixNano())

	header := domain.SalesTransaction{
		TransactionNumber: number,
		Status:            domain.TxStatusCompleted,
		Subtotal:          decimal.RequireFromString("250.00"),
		TotalAmount:       decimal.RequireFromString("250.00"),
		AmountPaid:        decimal.RequireFromString("250.00"),
		PaymentMethod:     domain.PaymentCash,
	}

	var firstID, secondID int64
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		first, err := tx.InsertTransaction(ctx, header)
		if err != nil {
			return err
		}
		firstID = first.ID
		if _, err := tx.InsertTransactionItems(ctx, first.ID, []domain.TransactionItem{{
			ProductID: product.ID, Quantity: 1, UnitPrice: product.UnitPrice, LineTotal: product.UnitPrice,
		}}); err != nil {
			return err
		}

		if _, err := tx.InsertTransaction(ctx, header); !errors.Is(err, store.ErrDuplicateTransactionNumber) {
			return fmt.Errorf("expected duplicate number, got %v", err)
		}

		header.TransactionNumber = number + "-B"
		second, err := tx.InsertTransaction(ctx, header)
		if err != nil {
			return err
		}
		secondID = second.ID
		_, err = tx.InsertTransactionItems(ctx, second.ID, []domain.TransactionItem{{
			ProductID: product.ID, Quantity: 1, UnitPrice: product.UnitPrice, LineTotal: product.UnitPrice,
		}})
		return err
	})
	if err != nil {
		t.Fatalf("unit of work: %v", err)
	}

	for _, id := range []int64{firstID, secondID} {
		saved, err := s.GetTransaction(ctx, id)
		if err != nil {
			t.Fatalf("get transaction %d: %v", id, err)
		}
		if len(saved.Items) != 1 || saved.Items[0].ProductSKU != product.SKU {
			t.Fatalf("expected one item for %s, got %+v", product.SKU, saved.Items)
		}
	}
}

func TestFailedUnitOfWorkRollsBack(t *testing.T) {
	s := newIntegrationStore(t)
	product := seedProduct(t, s, 10)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		change, err := tx.DeductStock(ctx, product.ID, 4)
		if err != nil {
			return err
		}
		if _, err := tx.RecordMovement(ctx, domain.InventoryMovement{
			ProductID:    product.ID,
			MovementType: domain.MovementSale,
			Quantity:     4,
			StockBefore:  change.Before,
			StockAfter:   change.After,
		}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.CurrentStock != 10 {
		t.Fatalf("expected stock 10 after rollback, got %d", got.CurrentStock)
	}
	movements, err := s.ListMovements(ctx, domain.MovementFilter{ProductID: &product.ID})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected no movements after rollback, got %d", len(movements))
	}
}
