package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowerbelle/backend/internal/domain"
)

var (
	ErrNotFound                   = errors.New("not found")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrValidation                 = errors.New("validation failed")
	ErrConflict                   = errors.New("conflict")
	ErrReferenced                 = errors.New("referenced by existing records")
	ErrDuplicateTransactionNumber = errors.New("duplicate transaction number")
)

// InsufficientStock wraps ErrInsufficientStock with the product and counts.
func InsufficientStock(product string, available int, requested int) error {
	return fmt.Errorf("%w: %s has %d available, %d requested", ErrInsufficientStock, product, available, requested)
}

// Repository is the storage boundary. Reads run outside a unit of work;
// every stock-affecting write goes through InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	GetMovement(ctx context.Context, id int64) (*domain.InventoryMovement, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error)

	GetAlert(ctx context.Context, id int64) (*domain.LowStockAlert, error)
	ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.LowStockAlert, error)

	GetTransaction(ctx context.Context, id int64) (*domain.SalesTransaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.SalesTransaction, error)

	GetActiveCart(ctx context.Context, userID int64) (*domain.Cart, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	DeleteUser(ctx context.Context, id int64) error
}

// Tx is one all-or-nothing unit of work. Nothing written through it is
// visible to other callers until the enclosing InTx returns nil.
type Tx interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// DeductStock decrements stock only if enough is available at the moment
	// of the update and reports the re-read before/after pair.
	DeductStock(ctx context.Context, productID int64, qty int) (domain.StockChange, error)
	RestoreStock(ctx context.Context, productID int64, qty int) (domain.StockChange, error)
	SetStock(ctx context.Context, productID int64, qty int) (domain.StockChange, error)

	RecordMovement(ctx context.Context, movement domain.InventoryMovement) (*domain.InventoryMovement, error)

	HasPendingAlert(ctx context.Context, productID int64) (bool, error)
	InsertAlert(ctx context.Context, alert domain.LowStockAlert) (*domain.LowStockAlert, error)
	LockAlert(ctx context.Context, id int64) (*domain.LowStockAlert, error)
	UpdateAlert(ctx context.Context, alert domain.LowStockAlert) error

	// LastTransactionSequence returns the highest NNNN among numbers that
	// start with prefix, or 0.
	LastTransactionSequence(ctx context.Context, prefix string) (int, error)
	// InsertTransaction returns ErrDuplicateTransactionNumber on a number
	// collision and leaves the unit of work usable.
	InsertTransaction(ctx context.Context, tx domain.SalesTransaction) (*domain.SalesTransaction, error)
	InsertTransactionItems(ctx context.Context, transactionID int64, items []domain.TransactionItem) ([]domain.TransactionItem, error)
	LockTransaction(ctx context.Context, id int64) (*domain.SalesTransaction, error)
	MarkTransactionVoid(ctx context.Context, id int64, voidedBy *int64, at time.Time, reason string) error

	LockActiveCart(ctx context.Context, userID int64) (*domain.Cart, error)
	InsertCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	UpsertCartItem(ctx context.Context, item domain.CartItem) (*domain.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, cartID int64, itemID int64, qty int) error
	DeleteCartItem(ctx context.Context, cartID int64, itemID int64) error
	ClearCart(ctx context.Context, cartID int64) error
	DeactivateCart(ctx context.Context, cartID int64) error
}
