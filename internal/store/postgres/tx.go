package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

// pgTx runs every statement of a unit of work on one READ COMMITTED
// transaction. Stock decrements are conditional updates; rows that are read
// and then written are locked with FOR UPDATE.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	products := make([]domain.Product, 0, len(ids))
	err := t.tx.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		normalizeProduct(&p)
		result[p.ID] = p
	}
	return result, nil
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var created domain.Product
	err := t.tx.GetContext(ctx, &created, `
		INSERT INTO products (
			sku, name, description, barcode, unit_price, cost_price,
			current_stock, reorder_level, is_active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
		RETURNING `+productColumns,
		product.SKU, product.Name, product.Description, product.Barcode, product.UnitPrice,
		product.CostPrice, product.CurrentStock, product.ReorderLevel, product.IsActive)
	if err != nil {
		if isUniqueViolation(err, constraintProductSKU) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrValidation, product.SKU)
		}
		return nil, err
	}
	normalizeProduct(&created)
	return &created, nil
}

// DeductStock is the only path that lowers stock for a sale. The WHERE clause
// makes the availability check and the decrement one atomic step.
func (t *pgTx) DeductStock(ctx context.Context, productID int64, qty int) (domain.StockChange, error) {
	if qty < 1 {
		return domain.StockChange{}, fmt.Errorf("%w: deduct quantity must be positive", store.ErrValidation)
	}

	var after int
	err := t.tx.QueryRowxContext(ctx, `
		UPDATE products
		SET current_stock = current_stock - $1, updated_at = now()
		WHERE id = $2 AND current_stock >= $1
		RETURNING current_stock
	`, qty, productID).Scan(&after)
	if err == nil {
		return domain.StockChange{ProductID: productID, Before: after + qty, After: after}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockChange{}, err
	}

	var current struct {
		Name  string `db:"name"`
		Stock int    `db:"current_stock"`
	}
	err = t.tx.GetContext(ctx, &current, `SELECT name, current_stock FROM products WHERE id = $1`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockChange{}, store.ErrNotFound
		}
		return domain.StockChange{}, err
	}
	return domain.StockChange{}, store.InsufficientStock(current.Name, current.Stock, qty)
}

func (t *pgTx) RestoreStock(ctx context.Context, productID int64, qty int) (domain.StockChange, error) {
	if qty < 1 {
		return domain.StockChange{}, fmt.Errorf("%w: restore quantity must be positive", store.ErrValidation)
	}

	var after int
	err := t.tx.QueryRowxContext(ctx, `
		UPDATE products
		SET current_stock = current_stock + $1, updated_at = now()
		WHERE id = $2
		RETURNING current_stock
	`, qty, productID).Scan(&after)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockChange{}, store.ErrNotFound
		}
		return domain.StockChange{}, err
	}
	return domain.StockChange{ProductID: productID, Before: after - qty, After: after}, nil
}

func (t *pgTx) SetStock(ctx context.Context, productID int64, qty int) (domain.StockChange, error) {
	if qty < 0 {
		return domain.StockChange{}, fmt.Errorf("%w: stock level cannot be negative", store.ErrValidation)
	}

	var before int
	err := t.tx.QueryRowxContext(ctx, `SELECT current_stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&before)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockChange{}, store.ErrNotFound
		}
		return domain.StockChange{}, err
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE products
		SET current_stock = $2, updated_at = now()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return domain.StockChange{}, err
	}
	return domain.StockChange{ProductID: productID, Before: before, After: qty}, nil
}

func (t *pgTx) RecordMovement(ctx context.Context, movement domain.InventoryMovement) (*domain.InventoryMovement, error) {
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	err := t.tx.QueryRowxContext(ctx, `
		WITH inserted AS (
			INSERT INTO inventory_movements (
				product_id, movement_type, quantity, stock_before, stock_after,
				reference_number, reason, notes, transaction_id, created_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING id, product_id
		)
		SELECT inserted.id, p.sku, p.name
		FROM inserted
		JOIN products p ON p.id = inserted.product_id
	`, movement.ProductID, movement.MovementType, movement.Quantity, movement.StockBefore, movement.StockAfter,
		movement.ReferenceNumber, movement.Reason, movement.Notes, movement.TransactionID, movement.CreatedBy,
		movement.CreatedAt).Scan(&movement.ID, &movement.ProductSKU, &movement.ProductName)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &movement, nil
}

func (t *pgTx) HasPendingAlert(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowxContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM low_stock_alerts WHERE product_id = $1 AND status = $2
		)
	`, productID, domain.AlertPending).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertAlert(ctx context.Context, alert domain.LowStockAlert) (*domain.LowStockAlert, error) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	err := t.tx.QueryRowxContext(ctx, `
		WITH inserted AS (
			INSERT INTO low_stock_alerts (product_id, current_stock, reorder_level, status, created_at)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id, product_id
		)
		SELECT inserted.id, p.sku, p.name
		FROM inserted
		JOIN products p ON p.id = inserted.product_id
	`, alert.ProductID, alert.CurrentStock, alert.ReorderLevel, alert.Status, alert.CreatedAt).
		Scan(&alert.ID, &alert.ProductSKU, &alert.ProductName)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &alert, nil
}

func (t *pgTx) LockAlert(ctx context.Context, id int64) (*domain.LowStockAlert, error) {
	var alert domain.LowStockAlert
	err := t.tx.GetContext(ctx, &alert, `
		SELECT `+alertColumns+`
		FROM low_stock_alerts a
		JOIN products p ON p.id = a.product_id
		WHERE a.id = $1
		FOR UPDATE OF a
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeAlert(&alert)
	return &alert, nil
}

func (t *pgTx) UpdateAlert(ctx context.Context, alert domain.LowStockAlert) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE low_stock_alerts
		SET status = $2, acknowledged_at = $3, acknowledged_by = $4, resolved_at = $5
		WHERE id = $1
	`, alert.ID, alert.Status, alert.AcknowledgedAt, alert.AcknowledgedBy, alert.ResolvedAt)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) LastTransactionSequence(ctx context.Context, prefix string) (int, error) {
	var last int
	err := t.tx.QueryRowxContext(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(transaction_number FROM $2::int) AS INTEGER)), 0)
		FROM sales_transactions
		WHERE transaction_number LIKE $1
	`, prefix+"%", len(prefix)+1).Scan(&last)
	return last, err
}

// InsertTransaction guards the insert with a savepoint so a number collision
// does not abort the surrounding transaction.
func (t *pgTx) InsertTransaction(ctx context.Context, tx domain.SalesTransaction) (*domain.SalesTransaction, error) {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT txn_number`); err != nil {
		return nil, err
	}

	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO sales_transactions (
			transaction_number, status, customer_name, customer_phone, customer_email,
			subtotal, tax, discount, total_amount, amount_paid, change_amount,
			payment_method, payment_reference, notes, created_by, created_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id
	`, tx.TransactionNumber, tx.Status, tx.CustomerName, tx.CustomerPhone, tx.CustomerEmail,
		tx.Subtotal, tx.Tax, tx.Discount, tx.TotalAmount, tx.AmountPaid, tx.ChangeAmount,
		tx.PaymentMethod, tx.PaymentReference, tx.Notes, tx.CreatedBy, tx.CreatedAt, tx.CompletedAt).Scan(&tx.ID)
	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT txn_number`); rbErr != nil {
			return nil, errors.Join(err, rbErr)
		}
		if isUniqueViolation(err, constraintTransactionNumber) {
			return nil, store.ErrDuplicateTransactionNumber
		}
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT txn_number`); err != nil {
		return nil, err
	}

	tx.Items = nil
	return &tx, nil
}

func (t *pgTx) InsertTransactionItems(ctx context.Context, transactionID int64, items []domain.TransactionItem) ([]domain.TransactionItem, error) {
	saved := make([]domain.TransactionItem, 0, len(items))
	for _, item := range items {
		item.TransactionID = transactionID
		err := t.tx.QueryRowxContext(ctx, `
			WITH inserted AS (
				INSERT INTO transaction_items (transaction_id, product_id, quantity, unit_price, discount, line_total)
				VALUES ($1,$2,$3,$4,$5,$6)
				RETURNING id, product_id
			)
			SELECT inserted.id, p.sku, p.name, p.cost_price
			FROM inserted
			JOIN products p ON p.id = inserted.product_id
		`, transactionID, item.ProductID, item.Quantity, item.UnitPrice, item.Discount, item.LineTotal).
			Scan(&item.ID, &item.ProductSKU, &item.ProductName, &item.CostPrice)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		saved = append(saved, item)
	}
	return saved, nil
}

func (t *pgTx) LockTransaction(ctx context.Context, id int64) (*domain.SalesTransaction, error) {
	var tx domain.SalesTransaction
	err := t.tx.GetContext(ctx, &tx, `SELECT `+transactionColumns+` FROM sales_transactions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeTransaction(&tx)

	items, err := selectTransactionItems(ctx, t.tx, []int64{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = items[tx.ID]
	return &tx, nil
}

func (t *pgTx) MarkTransactionVoid(ctx context.Context, id int64, voidedBy *int64, at time.Time, reason string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales_transactions
		SET status = $2, voided_by = $3, voided_at = $4, void_reason = $5
		WHERE id = $1
	`, id, domain.TxStatusVoid, voidedBy, at, reason)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) LockActiveCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	return selectActiveCart(ctx, t.tx, userID, true)
}

func (t *pgTx) InsertCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO carts (user_id, session_id, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		RETURNING id, created_at, updated_at
	`, cart.UserID, cart.SessionID, cart.IsActive).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, constraintActiveCart) {
			return nil, fmt.Errorf("%w: user %d already has an active cart", store.ErrConflict, cart.UserID)
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cart.CreatedAt = cart.CreatedAt.UTC()
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	cart.Items = nil
	return &cart, nil
}

// UpsertCartItem sets the quantity on an existing line for the product and
// keeps the price captured when the line was first added.
func (t *pgTx) UpsertCartItem(ctx context.Context, item domain.CartItem) (*domain.CartItem, error) {
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity, unit_price, added_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity
		RETURNING id, quantity, unit_price, added_at
	`, item.CartID, item.ProductID, item.Quantity, item.UnitPrice, item.AddedAt).
		Scan(&item.ID, &item.Quantity, &item.UnitPrice, &item.AddedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.AddedAt = item.AddedAt.UTC()
	if err := t.touchCart(ctx, item.CartID); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *pgTx) UpdateCartItemQuantity(ctx context.Context, cartID int64, itemID int64, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND id = $2
	`, cartID, itemID, qty)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return t.touchCart(ctx, cartID)
}

func (t *pgTx) DeleteCartItem(ctx context.Context, cartID int64, itemID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return t.touchCart(ctx, cartID)
}

func (t *pgTx) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return err
	}
	return t.touchCart(ctx, cartID)
}

func (t *pgTx) DeactivateCart(ctx context.Context, cartID int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE carts SET is_active = false, updated_at = now() WHERE id = $1
	`, cartID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) touchCart(ctx context.Context, cartID int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func selectTransactionItems(ctx context.Context, q sqlx.QueryerContext, ids []int64) (map[int64][]domain.TransactionItem, error) {
	items := make([]domain.TransactionItem, 0, len(ids)*4)
	err := sqlx.SelectContext(ctx, q, &items, `
		SELECT `+transactionItemColumns+`
		FROM transaction_items ti
		JOIN products p ON p.id = ti.product_id
		WHERE ti.transaction_id = ANY($1)
		ORDER BY ti.transaction_id ASC, ti.id ASC
	`, ids)
	if err != nil {
		return nil, err
	}

	grouped := make(map[int64][]domain.TransactionItem, len(ids))
	for _, item := range items {
		grouped[item.TransactionID] = append(grouped[item.TransactionID], item)
	}
	return grouped, nil
}

func selectActiveCart(ctx context.Context, q sqlx.QueryerContext, userID int64, forUpdate bool) (*domain.Cart, error) {
	query := `
		SELECT id, user_id, session_id, is_active, created_at, updated_at
		FROM carts
		WHERE user_id = $1 AND is_active`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var cart domain.Cart
	if err := sqlx.GetContext(ctx, q, &cart, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cart.CreatedAt = cart.CreatedAt.UTC()
	cart.UpdatedAt = cart.UpdatedAt.UTC()

	cart.Items = make([]domain.CartItem, 0, 8)
	err := sqlx.SelectContext(ctx, q, &cart.Items, `
		SELECT ci.id, ci.cart_id, ci.product_id, p.sku AS product_sku, p.name AS product_name,
			ci.quantity, ci.unit_price, ci.added_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id ASC
	`, cart.ID)
	if err != nil {
		return nil, err
	}
	for i := range cart.Items {
		cart.Items[i].AddedAt = cart.Items[i].AddedAt.UTC()
	}
	return &cart, nil
}
