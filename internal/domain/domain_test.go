package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestComputeTotals(t *testing.T) {
	items := []TransactionItem{
		{Quantity: 2, UnitPrice: dec("1200"), Discount: dec("100")},
		{Quantity: 3, UnitPrice: dec("60")},
	}

	totals := ComputeTotals(items, dec("12.50"), dec("50"), dec("3000"))

	if !totals.Subtotal.Equal(dec("2480")) {
		t.Fatalf("expected subtotal 2480, got %s", totals.Subtotal)
	}
	if !totals.Total.Equal(dec("2442.50")) {
		t.Fatalf("expected total 2442.50, got %s", totals.Total)
	}
	if !totals.ChangeAmount.Equal(dec("557.50")) {
		t.Fatalf("expected change 557.50, got %s", totals.ChangeAmount)
	}
}

func TestComputeTotalsNeverReturnsNegativeChange(t *testing.T) {
	totals := ComputeTotals([]TransactionItem{{Quantity: 1, UnitPrice: dec("650")}}, decimal.Zero, decimal.Zero, dec("100"))
	if !totals.ChangeAmount.IsZero() {
		t.Fatalf("expected zero change when underpaid, got %s", totals.ChangeAmount)
	}
}

func TestProfitTreatsMissingCostAsZero(t *testing.T) {
	items := []TransactionItem{
		{Quantity: 2, UnitPrice: dec("1200"), CostPrice: decimal.NewNullDecimal(dec("650"))},
		{Quantity: 2, UnitPrice: dec("60")},
	}
	if got := Profit(items); !got.Equal(dec("1220")) {
		t.Fatalf("expected profit 1220, got %s", got)
	}
}

func TestTransactionNumbers(t *testing.T) {
	day := time.Date(2026, 2, 14, 23, 59, 0, 0, time.UTC)
	prefix := TransactionNumberPrefix(day)
	if prefix != "TXN-20260214-" {
		t.Fatalf("unexpected prefix %q", prefix)
	}

	number := FormatTransactionNumber(prefix, 7)
	if number != "TXN-20260214-0007" {
		t.Fatalf("unexpected number %q", number)
	}
	if seq, ok := ParseTransactionSequence(number, prefix); !ok || seq != 7 {
		t.Fatalf("expected sequence 7, got %d (ok=%v)", seq, ok)
	}
	if _, ok := ParseTransactionSequence("TXN-20260213-0042", prefix); ok {
		t.Fatalf("expected other day's number to be ignored")
	}
	if _, ok := ParseTransactionSequence(prefix+"abcd", prefix); ok {
		t.Fatalf("expected malformed suffix to be ignored")
	}
	if got := FormatTransactionNumber(prefix, 10000); got != "TXN-20260214-10000" {
		t.Fatalf("expected sequence past 9999 to widen, got %q", got)
	}
}

func TestValidateMovement(t *testing.T) {
	cases := []struct {
		name string
		m    InventoryMovement
		ok   bool
	}{
		{"stock in", InventoryMovement{MovementType: MovementStockIn, Quantity: 5, StockBefore: 10, StockAfter: 15}, true},
		{"sale", InventoryMovement{MovementType: MovementSale, Quantity: 2, StockBefore: 10, StockAfter: 8}, true},
		{"adjustment down", InventoryMovement{MovementType: MovementAdjustment, Quantity: 3, StockBefore: 10, StockAfter: 7}, true},
		{"adjustment up", InventoryMovement{MovementType: MovementAdjustment, Quantity: 3, StockBefore: 7, StockAfter: 10}, true},
		{"return wrong sign", InventoryMovement{MovementType: MovementReturn, Quantity: 2, StockBefore: 10, StockAfter: 8}, false},
		{"zero quantity", InventoryMovement{MovementType: MovementDamage, Quantity: 0, StockBefore: 10, StockAfter: 10}, false},
		{"negative after", InventoryMovement{MovementType: MovementStockOut, Quantity: 3, StockBefore: 2, StockAfter: -1}, false},
		{"unknown type", InventoryMovement{MovementType: "GIFT", Quantity: 1, StockBefore: 1, StockAfter: 0}, false},
	}
	for _, tc := range cases {
		err := ValidateMovement(tc.m)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestProductLowStockBoundary(t *testing.T) {
	p := Product{CurrentStock: 10, ReorderLevel: 10}
	if !p.IsLowStock() {
		t.Fatalf("expected stock equal to reorder level to be low")
	}
	p.CurrentStock = 11
	if p.IsLowStock() {
		t.Fatalf("expected stock above reorder level not to be low")
	}
}

func TestCartTotals(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{Quantity: 2, UnitPrice: dec("1200")},
		{Quantity: 1, UnitPrice: dec("60")},
	}}
	if got := cart.Subtotal(); !got.Equal(dec("2460")) {
		t.Fatalf("expected subtotal 2460, got %s", got)
	}
	if got := cart.ItemCount(); got != 3 {
		t.Fatalf("expected 3 items, got %d", got)
	}
}

func TestNewSaleEventCopiesLines(t *testing.T) {
	at := time.Date(2026, 2, 14, 10, 30, 0, 0, time.UTC)
	tx := SalesTransaction{
		ID:                3,
		TransactionNumber: "TXN-20260214-0003",
		Status:            TxStatusCompleted,
		TotalAmount:       dec("1950"),
		Items:             []TransactionItem{{ProductID: 4, ProductSKU: "FLW-SUN-01", Quantity: 3, UnitPrice: dec("650")}},
	}

	event := NewSaleEvent("sale.completed", tx, at)

	if event.TransactionNumber != tx.TransactionNumber || !event.OccurredAt.Equal(at) {
		t.Fatalf("unexpected event header %+v", event)
	}
	if len(event.Lines) != 1 || event.Lines[0].SKU != "FLW-SUN-01" || event.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected event lines %+v", event.Lines)
	}
}
