package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

//go:embed schema.sql
var schema string

const (
	constraintProductSKU        = "products_sku_key"
	constraintTransactionNumber = "sales_transactions_number_key"
	constraintActiveCart        = "carts_one_active_per_user"

	// A unit of work that loses a serialization or deadlock race is run again
	// once from the top.
	txAttempts = 2
)

type Store struct {
	db *sqlx.DB
}

// New opens the pool; maxOpenConns below 1 falls back to 30.
func New(ctx context.Context, databaseURL string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if maxOpenConns < 1 {
		maxOpenConns = 30
	}
	db.SetMaxIdleConns(min(8, maxOpenConns))
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes. It is safe to run on
// every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const productColumns = `
	id, sku, name, description, barcode, unit_price, cost_price,
	current_stock, reorder_level, is_active, created_at, updated_at
`

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var where conditions
	if filter.Active != nil {
		where.add("is_active = ?", *filter.Active)
	}
	if filter.LowStockOnly {
		where.add("current_stock <= reorder_level")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		where.add("(name ILIKE ? OR sku ILIKE ? OR barcode ILIKE ?)", pattern, pattern, pattern)
	}

	query := `SELECT ` + productColumns + ` FROM products` + where.sql() + ` ORDER BY name ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	products := make([]domain.Product, 0, 64)
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), where.args...); err != nil {
		return nil, err
	}
	for i := range products {
		normalizeProduct(&products[i])
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeProduct(&product)
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var updated domain.Product
	err := s.db.GetContext(ctx, &updated, `
		UPDATE products
		SET name = $2, description = $3, barcode = $4, unit_price = $5, cost_price = $6,
			reorder_level = $7, is_active = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Description, product.Barcode, product.UnitPrice,
		product.CostPrice, product.ReorderLevel, product.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeProduct(&updated)
	return &updated, nil
}

const movementColumns = `
	m.id, m.product_id, p.sku AS product_sku, p.name AS product_name, m.movement_type,
	m.quantity, m.stock_before, m.stock_after, m.reference_number, m.reason, m.notes,
	m.transaction_id, m.created_by, m.created_at
`

func (s *Store) GetMovement(ctx context.Context, id int64) (*domain.InventoryMovement, error) {
	var movement domain.InventoryMovement
	err := s.db.GetContext(ctx, &movement, `
		SELECT `+movementColumns+`
		FROM inventory_movements m
		JOIN products p ON p.id = m.product_id
		WHERE m.id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	movement.CreatedAt = movement.CreatedAt.UTC()
	return &movement, nil
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	var where conditions
	if filter.ProductID != nil {
		where.add("m.product_id = ?", *filter.ProductID)
	}
	if filter.MovementType != "" {
		where.add("m.movement_type = ?", filter.MovementType)
	}
	if filter.From != nil {
		where.add("m.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		where.add("m.created_at < ?", *filter.To)
	}

	query := `
		SELECT ` + movementColumns + `
		FROM inventory_movements m
		JOIN products p ON p.id = m.product_id` + where.sql() + `
		ORDER BY m.created_at DESC, m.id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	movements := make([]domain.InventoryMovement, 0, 64)
	if err := s.db.SelectContext(ctx, &movements, s.db.Rebind(query), where.args...); err != nil {
		return nil, err
	}
	for i := range movements {
		movements[i].CreatedAt = movements[i].CreatedAt.UTC()
	}
	return movements, nil
}

const alertColumns = `
	a.id, a.product_id, p.sku AS product_sku, p.name AS product_name, a.current_stock,
	a.reorder_level, a.status, a.created_at, a.acknowledged_at, a.acknowledged_by, a.resolved_at
`

func (s *Store) GetAlert(ctx context.Context, id int64) (*domain.LowStockAlert, error) {
	var alert domain.LowStockAlert
	err := s.db.GetContext(ctx, &alert, `
		SELECT `+alertColumns+`
		FROM low_stock_alerts a
		JOIN products p ON p.id = a.product_id
		WHERE a.id = $1
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

func (s *Store) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.LowStockAlert, error) {
	var where conditions
	if filter.Status != "" {
		where.add("a.status = ?", filter.Status)
	}
	query := `
		SELECT ` + alertColumns + `
		FROM low_stock_alerts a
		JOIN products p ON p.id = a.product_id` + where.sql() + `
		ORDER BY a.created_at DESC, a.id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	alerts := make([]domain.LowStockAlert, 0, 32)
	if err := s.db.SelectContext(ctx, &alerts, s.db.Rebind(query), where.args...); err != nil {
		return nil, err
	}
	for i := range alerts {
		normalizeAlert(&alerts[i])
	}
	return alerts, nil
}

const transactionColumns = `
	id, transaction_number, status, customer_name, customer_phone, customer_email,
	subtotal, tax, discount, total_amount, amount_paid, change_amount, payment_method,
	payment_reference, notes, created_by, created_at, completed_at, voided_by, voided_at, void_reason
`

const transactionItemColumns = `
	ti.id, ti.transaction_id, ti.product_id, p.sku AS product_sku, p.name AS product_name,
	ti.quantity, ti.unit_price, ti.discount, ti.line_total, p.cost_price
`

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.SalesTransaction, error) {
	var tx domain.SalesTransaction
	err := s.db.GetContext(ctx, &tx, `SELECT `+transactionColumns+` FROM sales_transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeTransaction(&tx)

	items, err := selectTransactionItems(ctx, s.db, []int64{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = items[tx.ID]
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.SalesTransaction, error) {
	var where conditions
	if filter.Status != "" {
		where.add("status = ?", filter.Status)
	}
	if filter.PaymentMethod != "" {
		where.add("payment_method = ?", filter.PaymentMethod)
	}
	if filter.CreatedBy != nil {
		where.add("created_by = ?", *filter.CreatedBy)
	}
	if filter.From != nil {
		where.add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		where.add("created_at < ?", *filter.To)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		where.add("(transaction_number ILIKE ? OR customer_name ILIKE ?)", pattern, pattern)
	}

	query := `SELECT ` + transactionColumns + ` FROM sales_transactions` + where.sql() + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	transactions := make([]domain.SalesTransaction, 0, 64)
	if err := s.db.SelectContext(ctx, &transactions, s.db.Rebind(query), where.args...); err != nil {
		return nil, err
	}
	for i := range transactions {
		normalizeTransaction(&transactions[i])
	}
	if !filter.IncludeItems || len(transactions) == 0 {
		return transactions, nil
	}

	ids := make([]int64, len(transactions))
	for i, tx := range transactions {
		ids[i] = tx.ID
	}
	items, err := selectTransactionItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range transactions {
		transactions[i].Items = items[transactions[i].ID]
	}
	return transactions, nil
}

func (s *Store) GetActiveCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	return selectActiveCart(ctx, s.db, userID, false)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	logs := make([]domain.AuditLog, 0, limit)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].CreatedAt = logs[i].CreatedAt.UTC()
	}
	return logs, nil
}

const userColumns = `id, username, password_hash, full_name, role, is_active, created_at`

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}

	var created domain.UserAccount
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO users (username, password_hash, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, now(), now())
		RETURNING `+userColumns,
		user.Username, user.Password, user.FullName, user.Role)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return nil, err
	}
	created.CreatedAt = created.CreatedAt.UTC()
	return &created, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username ASC`); err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteUser relies on RESTRICT foreign keys to refuse deleting anyone who
// still owns sales, movements or alert acknowledgements.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: user has recorded activity", store.ErrReferenced)
		}
		return err
	}
	return requireAffected(res)
}

// conditions collects WHERE clauses written with ? placeholders; queries are
// rebound to $n before execution.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, args ...any) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, args...)
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func normalizeProduct(p *domain.Product) {
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
}

func normalizeAlert(a *domain.LowStockAlert) {
	a.CreatedAt = a.CreatedAt.UTC()
	a.AcknowledgedAt = utcPtr(a.AcknowledgedAt)
	a.ResolvedAt = utcPtr(a.ResolvedAt)
}

func normalizeTransaction(tx *domain.SalesTransaction) {
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.CompletedAt = utcPtr(tx.CompletedAt)
	tx.VoidedAt = utcPtr(tx.VoidedAt)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	at := t.UTC()
	return &at
}

// isUniqueViolation matches 23505, optionally narrowed to one constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
