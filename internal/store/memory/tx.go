package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

// memTx applies writes directly to the store and records an inverse for
// each one; rollback replays the inverses newest first.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) putProduct(p domain.Product) {
	prev, existed := t.s.products[p.ID]
	t.s.products[p.ID] = p
	t.onRollback(func() {
		if existed {
			t.s.products[p.ID] = prev
			return
		}
		delete(t.s.products, p.ID)
	})
}

func (t *memTx) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	products := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			products[id] = p
		}
	}
	return products, nil
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	for _, existing := range t.s.products {
		if strings.EqualFold(existing.SKU, product.SKU) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrValidation, product.SKU)
		}
	}
	now := time.Now().UTC()
	product.ID = t.s.nextID("product")
	product.CreatedAt = now
	product.UpdatedAt = now
	t.putProduct(product)
	return &product, nil
}

func (t *memTx) DeductStock(_ context.Context, productID int64, qty int) (domain.StockChange, error) {
	if qty < 1 {
		return domain.StockChange{}, fmt.Errorf("%w: deduct quantity must be positive", store.ErrValidation)
	}
	p, ok := t.s.products[productID]
	if !ok {
		return domain.StockChange{}, store.ErrNotFound
	}
	if p.CurrentStock < qty {
		return domain.StockChange{}, store.InsufficientStock(p.Name, p.CurrentStock, qty)
	}
	change := domain.StockChange{ProductID: productID, Before: p.CurrentStock, After: p.CurrentStock - qty}
	p.CurrentStock = change.After
	p.UpdatedAt = time.Now().UTC()
	t.putProduct(p)
	return change, nil
}

func (t *memTx) RestoreStock(_ context.Context, productID int64, qty int) (domain.StockChange, error) {
	if qty < 1 {
		return domain.StockChange{}, fmt.Errorf("%w: restore quantity must be positive", store.ErrValidation)
	}
	p, ok := t.s.products[productID]
	if !ok {
		return domain.StockChange{}, store.ErrNotFound
	}
	change := domain.StockChange{ProductID: productID, Before: p.CurrentStock, After: p.CurrentStock + qty}
	p.CurrentStock = change.After
	p.UpdatedAt = time.Now().UTC()
	t.putProduct(p)
	return change, nil
}

func (t *memTx) SetStock(_ context.Context, productID int64, qty int) (domain.StockChange, error) {
	if qty < 0 {
		return domain.StockChange{}, fmt.Errorf("%w: stock level cannot be negative", store.ErrValidation)
	}
	p, ok := t.s.products[productID]
	if !ok {
		return domain.StockChange{}, store.ErrNotFound
	}
	change := domain.StockChange{ProductID: productID, Before: p.CurrentStock, After: qty}
	p.CurrentStock = qty
	p.UpdatedAt = time.Now().UTC()
	t.putProduct(p)
	return change, nil
}

func (t *memTx) RecordMovement(_ context.Context, movement domain.InventoryMovement) (*domain.InventoryMovement, error) {
	p, ok := t.s.products[movement.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	movement.ID = t.s.nextID("movement")
	movement.ProductSKU = p.SKU
	movement.ProductName = p.Name
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	n := len(t.s.movements)
	t.s.movements = append(t.s.movements, movement)
	t.onRollback(func() { t.s.movements = t.s.movements[:n] })
	return &movement, nil
}

func (t *memTx) HasPendingAlert(_ context.Context, productID int64) (bool, error) {
	for _, alert := range t.s.alerts {
		if alert.ProductID == productID && alert.Status == domain.AlertPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertAlert(_ context.Context, alert domain.LowStockAlert) (*domain.LowStockAlert, error) {
	p, ok := t.s.products[alert.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	alert.ID = t.s.nextID("alert")
	alert.ProductSKU = p.SKU
	alert.ProductName = p.Name
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	t.s.alerts[alert.ID] = alert
	t.onRollback(func() { delete(t.s.alerts, alert.ID) })
	return &alert, nil
}

func (t *memTx) LockAlert(_ context.Context, id int64) (*domain.LowStockAlert, error) {
	alert, ok := t.s.alerts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &alert, nil
}

func (t *memTx) UpdateAlert(_ context.Context, alert domain.LowStockAlert) error {
	prev, ok := t.s.alerts[alert.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.s.alerts[alert.ID] = alert
	t.onRollback(func() { t.s.alerts[alert.ID] = prev })
	return nil
}

func (t *memTx) LastTransactionSequence(_ context.Context, prefix string) (int, error) {
	last := 0
	for _, tx := range t.s.transactions {
		if seq, ok := domain.ParseTransactionSequence(tx.TransactionNumber, prefix); ok && seq > last {
			last = seq
		}
	}
	return last, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx domain.SalesTransaction) (*domain.SalesTransaction, error) {
	for _, existing := range t.s.transactions {
		if existing.TransactionNumber == tx.TransactionNumber {
			return nil, store.ErrDuplicateTransactionNumber
		}
	}
	tx.ID = t.s.nextID("transaction")
	tx.Items = nil
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	stored := tx
	t.s.transactions[tx.ID] = &stored
	t.onRollback(func() { delete(t.s.transactions, tx.ID) })
	return &tx, nil
}

func (t *memTx) InsertTransactionItems(_ context.Context, transactionID int64, items []domain.TransactionItem) ([]domain.TransactionItem, error) {
	tx, ok := t.s.transactions[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	prevItems := tx.Items

	saved := make([]domain.TransactionItem, 0, len(items))
	for _, item := range items {
		p, ok := t.s.products[item.ProductID]
		if !ok {
			return nil, store.ErrNotFound
		}
		item.ID = t.s.nextID("transaction_item")
		item.TransactionID = transactionID
		item.ProductSKU = p.SKU
		item.ProductName = p.Name
		item.CostPrice = p.CostPrice
		saved = append(saved, item)
	}

	tx.Items = append(append([]domain.TransactionItem(nil), prevItems...), saved...)
	t.onRollback(func() { tx.Items = prevItems })
	return saved, nil
}

func (t *memTx) LockTransaction(_ context.Context, id int64) (*domain.SalesTransaction, error) {
	tx, ok := t.s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.s.cloneTransaction(tx, true), nil
}

func (t *memTx) MarkTransactionVoid(_ context.Context, id int64, voidedBy *int64, at time.Time, reason string) error {
	tx, ok := t.s.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	prev := *tx
	tx.Status = domain.TxStatusVoid
	tx.VoidedBy = voidedBy
	tx.VoidedAt = &at
	tx.VoidReason = reason
	t.onRollback(func() { *tx = prev })
	return nil
}

func (t *memTx) LockActiveCart(_ context.Context, userID int64) (*domain.Cart, error) {
	cart := t.s.activeCart(userID)
	if cart == nil {
		return nil, store.ErrNotFound
	}
	return t.s.cloneCart(cart), nil
}

func (t *memTx) InsertCart(_ context.Context, cart domain.Cart) (*domain.Cart, error) {
	if cart.IsActive && t.s.activeCart(cart.UserID) != nil {
		return nil, fmt.Errorf("%w: user %d already has an active cart", store.ErrConflict, cart.UserID)
	}
	now := time.Now().UTC()
	cart.ID = t.s.nextID("cart")
	cart.Items = nil
	cart.CreatedAt = now
	cart.UpdatedAt = now
	stored := cart
	t.s.carts[cart.ID] = &stored
	t.onRollback(func() { delete(t.s.carts, cart.ID) })
	return &cart, nil
}

// saveCart snapshots a cart so the next write to it can be undone.
func (t *memTx) saveCart(cartID int64) (*domain.Cart, error) {
	cart, ok := t.s.carts[cartID]
	if !ok {
		return nil, store.ErrNotFound
	}
	snapshot := *cart
	snapshot.Items = append([]domain.CartItem(nil), cart.Items...)
	t.onRollback(func() { *cart = snapshot })
	return cart, nil
}

// UpsertCartItem adds a line or sets the quantity of the existing line for
// the same product; an existing line keeps its price snapshot.
func (t *memTx) UpsertCartItem(_ context.Context, item domain.CartItem) (*domain.CartItem, error) {
	cart, err := t.saveCart(item.CartID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	cart.UpdatedAt = now
	for i := range cart.Items {
		if cart.Items[i].ProductID == item.ProductID {
			cart.Items[i].Quantity = item.Quantity
			saved := cart.Items[i]
			return &saved, nil
		}
	}
	item.ID = t.s.nextID("cart_item")
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	cart.Items = append(cart.Items, item)
	return &item, nil
}

func (t *memTx) UpdateCartItemQuantity(_ context.Context, cartID int64, itemID int64, qty int) error {
	cart, err := t.saveCart(cartID)
	if err != nil {
		return err
	}
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items[i].Quantity = qty
			cart.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *memTx) DeleteCartItem(_ context.Context, cartID int64, itemID int64) error {
	cart, err := t.saveCart(cartID)
	if err != nil {
		return err
	}
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items = append(cart.Items[:i:i], cart.Items[i+1:]...)
			cart.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *memTx) ClearCart(_ context.Context, cartID int64) error {
	cart, err := t.saveCart(cartID)
	if err != nil {
		return err
	}
	cart.Items = nil
	cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) DeactivateCart(_ context.Context, cartID int64) error {
	cart, err := t.saveCart(cartID)
	if err != nil {
		return err
	}
	cart.IsActive = false
	cart.UpdatedAt = time.Now().UTC()
	return nil
}
