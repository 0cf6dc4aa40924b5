package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusVoid      = "VOID"
	TxStatusRefunded  = "REFUNDED"
)

const (
	PaymentCash         = "CASH"
	PaymentCard         = "CARD"
	PaymentGCash        = "GCASH"
	PaymentPayMaya      = "PAYMAYA"
	PaymentBankTransfer = "BANK_TRANSFER"
)

func IsPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentGCash, PaymentPayMaya, PaymentBankTransfer:
		return true
	}
	return false
}

type SalesTransaction struct {
	ID                int64             `json:"id" db:"id"`
	TransactionNumber string            `json:"transaction_number" db:"transaction_number"`
	Status            string            `json:"status" db:"status"`
	CustomerName      string            `json:"customer_name" db:"customer_name"`
	CustomerPhone     string            `json:"customer_phone" db:"customer_phone"`
	CustomerEmail     string            `json:"customer_email" db:"customer_email"`
	Subtotal          decimal.Decimal   `json:"subtotal" db:"subtotal"`
	Tax               decimal.Decimal   `json:"tax" db:"tax"`
	Discount          decimal.Decimal   `json:"discount" db:"discount"`
	TotalAmount       decimal.Decimal   `json:"total_amount" db:"total_amount"`
	AmountPaid        decimal.Decimal   `json:"amount_paid" db:"amount_paid"`
	ChangeAmount      decimal.Decimal   `json:"change_amount" db:"change_amount"`
	PaymentMethod     string            `json:"payment_method" db:"payment_method"`
	PaymentReference  string            `json:"payment_reference" db:"payment_reference"`
	Notes             string            `json:"notes" db:"notes"`
	CreatedBy         *int64            `json:"created_by,omitempty" db:"created_by"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	VoidedBy          *int64            `json:"voided_by,omitempty" db:"voided_by"`
	VoidedAt          *time.Time        `json:"voided_at,omitempty" db:"voided_at"`
	VoidReason        string            `json:"void_reason" db:"void_reason"`
	Items             []TransactionItem `json:"items,omitempty" db:"-"`
}

// TransactionDetail is a transaction with its derived profit.
type TransactionDetail struct {
	SalesTransaction
	Profit decimal.Decimal `json:"profit"`
}

func NewTransactionDetail(tx SalesTransaction) TransactionDetail {
	return TransactionDetail{SalesTransaction: tx, Profit: Profit(tx.Items)}
}

type TransactionItem struct {
	ID            int64               `json:"id" db:"id"`
	TransactionID int64               `json:"transaction_id" db:"transaction_id"`
	ProductID     int64               `json:"product_id" db:"product_id"`
	ProductSKU    string              `json:"product_sku" db:"product_sku"`
	ProductName   string              `json:"product_name" db:"product_name"`
	Quantity      int                 `json:"quantity" db:"quantity"`
	UnitPrice     decimal.Decimal     `json:"unit_price" db:"unit_price"`
	Discount      decimal.Decimal     `json:"discount" db:"discount"`
	LineTotal     decimal.Decimal     `json:"line_total" db:"line_total"`
	CostPrice     decimal.NullDecimal `json:"-" db:"cost_price"`
}

// MoneyScale is the number of decimal places every stored amount carries.
const MoneyScale = 2

// IsMoneyPrecise reports whether v fits in MoneyScale decimal places without
// rounding.
func IsMoneyPrecise(v decimal.Decimal) bool {
	return v.Equal(v.Round(MoneyScale))
}

// ComputeLineTotal returns unit_price × quantity − discount.
func ComputeLineTotal(unitPrice decimal.Decimal, quantity int, discount decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Sub(discount)
}

type Totals struct {
	Subtotal     decimal.Decimal
	Total        decimal.Decimal
	ChangeAmount decimal.Decimal
}

// ComputeTotals derives subtotal, total and change from frozen line items.
func ComputeTotals(items []TransactionItem, tax, discount, amountPaid decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(ComputeLineTotal(item.UnitPrice, item.Quantity, item.Discount))
	}
	total := subtotal.Add(tax).Sub(discount)
	change := amountPaid.Sub(total)
	if change.IsNegative() {
		change = decimal.Zero
	}
	return Totals{Subtotal: subtotal, Total: total, ChangeAmount: change}
}

// Profit sums (unit_price − cost_price) × quantity; a missing cost counts as zero.
func Profit(items []TransactionItem) decimal.Decimal {
	profit := decimal.Zero
	for _, item := range items {
		cost := decimal.Zero
		if item.CostPrice.Valid {
			cost = item.CostPrice.Decimal
		}
		profit = profit.Add(item.UnitPrice.Sub(cost).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return profit
}

const transactionNumberLayout = "20060102"

// TransactionNumberPrefix returns "TXN-YYYYMMDD-" for the calendar day of t.
func TransactionNumberPrefix(t time.Time) string {
	return "TXN-" + t.Format(transactionNumberLayout) + "-"
}

func FormatTransactionNumber(prefix string, sequence int) string {
	return fmt.Sprintf("%s%04d", prefix, sequence)
}

// ParseTransactionSequence extracts NNNN from a number carrying the given prefix.
func ParseTransactionSequence(number string, prefix string) (int, bool) {
	if !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// PaymentDetails is the payment and customer part shared by direct sales and
// cart checkout.
type PaymentDetails struct {
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	Tax              decimal.Decimal `json:"tax"`
	Discount         decimal.Decimal `json:"discount"`
	Notes            string          `json:"notes"`
	CustomerName     string          `json:"customer_name"`
	CustomerPhone    string          `json:"customer_phone"`
	CustomerEmail    string          `json:"customer_email"`
}

type SaleLineRequest struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
}

type SaleRequest struct {
	PaymentDetails
	Items []SaleLineRequest `json:"items"`
}

type CheckoutRequest struct {
	PaymentDetails
}

type VoidRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type VoidResponse struct {
	Transaction   SalesTransaction `json:"transaction"`
	AlreadyVoided bool             `json:"already_voided"`
}

type TransactionFilter struct {
	Status        string
	PaymentMethod string
	From          *time.Time
	To            *time.Time
	CreatedBy     *int64
	Search        string
	Limit         int
	IncludeItems  bool
}

type Cart struct {
	ID        int64      `json:"id" db:"id"`
	UserID    int64      `json:"user_id" db:"user_id"`
	SessionID string     `json:"session_id" db:"session_id"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	Items     []CartItem `json:"cart_items" db:"-"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

func (c Cart) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range c.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

func (c Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

type CartItem struct {
	ID          int64           `json:"id" db:"id"`
	CartID      int64           `json:"cart_id" db:"cart_id"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	ProductSKU  string          `json:"product_sku" db:"product_sku"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	AddedAt     time.Time       `json:"added_at" db:"added_at"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CartResponse struct {
	Cart      Cart            `json:"cart"`
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type CartAddRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CartUpdateRequest struct {
	Quantity int `json:"quantity"`
}

type SalesSummary struct {
	Date               string           `json:"date"`
	Transactions       int              `json:"transactions"`
	VoidedTransactions int              `json:"voided_transactions"`
	GrossSales         decimal.Decimal  `json:"gross_sales"`
	Discount           decimal.Decimal  `json:"discount"`
	Tax                decimal.Decimal  `json:"tax"`
	NetSales           decimal.Decimal  `json:"net_sales"`
	Profit             decimal.Decimal  `json:"profit"`
	ByPayment          []PaymentSummary `json:"by_payment"`
	ByStaff            []StaffSummary   `json:"by_staff"`
}

type PaymentSummary struct {
	PaymentMethod string          `json:"payment_method"`
	Transactions  int             `json:"transactions"`
	Total         decimal.Decimal `json:"total"`
}

type StaffSummary struct {
	UserID       int64           `json:"user_id"`
	Transactions int             `json:"transactions"`
	Total        decimal.Decimal `json:"total"`
}

const (
	EventSaleCompleted = "sale.completed"
	EventSaleVoided    = "sale.voided"
)

// SaleEvent is published after a sale or void commits.
type SaleEvent struct {
	Type              string          `json:"type"`
	TransactionID     int64           `json:"transaction_id"`
	TransactionNumber string          `json:"transaction_number"`
	Status            string          `json:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Lines             []SaleEventLine `json:"lines"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

type SaleEventLine struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func NewSaleEvent(eventType string, tx SalesTransaction, at time.Time) SaleEvent {
	lines := make([]SaleEventLine, 0, len(tx.Items))
	for _, item := range tx.Items {
		lines = append(lines, SaleEventLine{
			ProductID: item.ProductID,
			SKU:       item.ProductSKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return SaleEvent{
		Type:              eventType,
		TransactionID:     tx.ID,
		TransactionNumber: tx.TransactionNumber,
		Status:            tx.Status,
		TotalAmount:       tx.TotalAmount,
		Lines:             lines,
		OccurredAt:        at,
	}
}
