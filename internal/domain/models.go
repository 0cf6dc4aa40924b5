package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Product struct {
	ID           int64               `json:"id" db:"id"`
	SKU          string              `json:"sku" db:"sku"`
	Name         string              `json:"name" db:"name"`
	Description  string              `json:"description" db:"description"`
	Barcode      string              `json:"barcode" db:"barcode"`
	UnitPrice    decimal.Decimal     `json:"unit_price" db:"unit_price"`
	CostPrice    decimal.NullDecimal `json:"cost_price" db:"cost_price"`
	CurrentStock int                 `json:"current_stock" db:"current_stock"`
	ReorderLevel int                 `json:"reorder_level" db:"reorder_level"`
	IsActive     bool                `json:"is_active" db:"is_active"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

func (p Product) IsLowStock() bool {
	return p.CurrentStock <= p.ReorderLevel
}

// UnitCost returns the cost price, or zero when the product has none recorded.
func (p Product) UnitCost() decimal.Decimal {
	if p.CostPrice.Valid {
		return p.CostPrice.Decimal
	}
	return decimal.Zero
}

func (p Product) MarshalJSON() ([]byte, error) {
	type alias Product
	return json.Marshal(struct {
		alias
		IsLowStock bool `json:"is_low_stock"`
	}{alias: alias(p), IsLowStock: p.IsLowStock()})
}

type ProductFilter struct {
	Search       string
	Active       *bool
	LowStockOnly bool
	Limit        int
}

type ProductCreateRequest struct {
	SKU          string              `json:"sku"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Barcode      string              `json:"barcode"`
	UnitPrice    decimal.Decimal     `json:"unit_price"`
	CostPrice    decimal.NullDecimal `json:"cost_price"`
	InitialStock int                 `json:"initial_stock"`
	ReorderLevel *int                `json:"reorder_level,omitempty"`
}

type ProductUpdateRequest struct {
	Name         *string              `json:"name,omitempty"`
	Description  *string              `json:"description,omitempty"`
	Barcode      *string              `json:"barcode,omitempty"`
	UnitPrice    *decimal.Decimal     `json:"unit_price,omitempty"`
	CostPrice    *decimal.NullDecimal `json:"cost_price,omitempty"`
	ReorderLevel *int                 `json:"reorder_level,omitempty"`
	IsActive     *bool                `json:"is_active,omitempty"`
}

const DefaultReorderLevel = 10

const (
	MovementStockIn    = "STOCK_IN"
	MovementStockOut   = "STOCK_OUT"
	MovementAdjustment = "ADJUSTMENT"
	MovementSale       = "SALE"
	MovementReturn     = "RETURN"
	MovementDamage     = "DAMAGE"
)

// StockChange is the before/after pair produced by one ledger operation.
type StockChange struct {
	ProductID int64 `json:"product_id"`
	Before    int   `json:"stock_before"`
	After     int   `json:"stock_after"`
}

type InventoryMovement struct {
	ID              int64     `json:"id" db:"id"`
	ProductID       int64     `json:"product_id" db:"product_id"`
	ProductSKU      string    `json:"product_sku" db:"product_sku"`
	ProductName     string    `json:"product_name" db:"product_name"`
	MovementType    string    `json:"movement_type" db:"movement_type"`
	Quantity        int       `json:"quantity" db:"quantity"`
	StockBefore     int       `json:"stock_before" db:"stock_before"`
	StockAfter      int       `json:"stock_after" db:"stock_after"`
	ReferenceNumber string    `json:"reference_number" db:"reference_number"`
	Reason          string    `json:"reason" db:"reason"`
	Notes           string    `json:"notes" db:"notes"`
	TransactionID   *int64    `json:"transaction_id,omitempty" db:"transaction_id"`
	CreatedBy       *int64    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type MovementFilter struct {
	ProductID    *int64
	MovementType string
	From         *time.Time
	To           *time.Time
	Limit        int
}

type MovementCreateRequest struct {
	ProductID       int64  `json:"product_id"`
	MovementType    string `json:"movement_type"`
	Quantity        int    `json:"quantity"`
	ReferenceNumber string `json:"reference_number"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
}

type StockAdjustmentRequest struct {
	ProductID     int64  `json:"product_id"`
	NewStockLevel int    `json:"new_stock_level"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
}

type StockAdjustmentResponse struct {
	Movement InventoryMovement `json:"movement"`
	Product  Product           `json:"product"`
}

func IsMovementType(value string) bool {
	switch value {
	case MovementStockIn, MovementStockOut, MovementAdjustment, MovementSale, MovementReturn, MovementDamage:
		return true
	}
	return false
}

// IsStockReducing reports whether a movement type lowers stock and may
// therefore raise a low-stock alert.
func IsStockReducing(movementType string) bool {
	switch movementType {
	case MovementStockOut, MovementSale, MovementDamage:
		return true
	}
	return false
}

// ValidateMovement checks the sign convention between quantity and the
// before/after snapshot.
func ValidateMovement(m InventoryMovement) error {
	if !IsMovementType(m.MovementType) {
		return fmt.Errorf("unknown movement type %q", m.MovementType)
	}
	if m.Quantity < 1 {
		return fmt.Errorf("movement quantity must be positive, got %d", m.Quantity)
	}
	if m.StockBefore < 0 || m.StockAfter < 0 {
		return fmt.Errorf("movement leaves negative stock (%d -> %d)", m.StockBefore, m.StockAfter)
	}

	switch m.MovementType {
	case MovementStockIn, MovementReturn:
		if m.StockAfter != m.StockBefore+m.Quantity {
			return fmt.Errorf("%s expects %d + %d, got %d", m.MovementType, m.StockBefore, m.Quantity, m.StockAfter)
		}
	case MovementStockOut, MovementSale, MovementDamage:
		if m.StockAfter != m.StockBefore-m.Quantity {
			return fmt.Errorf("%s expects %d - %d, got %d", m.MovementType, m.StockBefore, m.Quantity, m.StockAfter)
		}
	case MovementAdjustment:
		if m.StockAfter != m.StockBefore+m.Quantity && m.StockAfter != m.StockBefore-m.Quantity {
			return fmt.Errorf("ADJUSTMENT of %d does not explain %d -> %d", m.Quantity, m.StockBefore, m.StockAfter)
		}
	}
	return nil
}

const (
	AlertPending      = "PENDING"
	AlertAcknowledged = "ACKNOWLEDGED"
	AlertResolved     = "RESOLVED"
)

type LowStockAlert struct {
	ID             int64      `json:"id" db:"id"`
	ProductID      int64      `json:"product_id" db:"product_id"`
	ProductSKU     string     `json:"product_sku" db:"product_sku"`
	ProductName    string     `json:"product_name" db:"product_name"`
	CurrentStock   int        `json:"current_stock" db:"current_stock"`
	ReorderLevel   int        `json:"reorder_level" db:"reorder_level"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy *int64     `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

type AlertFilter struct {
	Status string
	Limit  int
}

type UserAccount struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password_hash"`
	FullName  string    `json:"full_name" db:"full_name"`
	Role      string    `json:"role" db:"role"`
	Active    bool      `json:"active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type PasswordChangeRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	AuditCreate = "CREATE"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
	AuditLogin  = "LOGIN"
)

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
