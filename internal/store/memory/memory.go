package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

// Store keeps all state in process memory. A unit of work holds the write
// lock for its whole duration, so units never interleave.
type Store struct {
	mu           sync.RWMutex
	products     map[int64]domain.Product
	movements    []domain.InventoryMovement
	alerts       map[int64]domain.LowStockAlert
	transactions map[int64]*domain.SalesTransaction
	carts        map[int64]*domain.Cart
	auditLogs    []domain.AuditLog
	users        map[int64]domain.UserAccount
	sequences    map[string]int64
}

func New() *Store {
	return &Store{
		products:     make(map[int64]domain.Product),
		movements:    make([]domain.InventoryMovement, 0, 128),
		alerts:       make(map[int64]domain.LowStockAlert),
		transactions: make(map[int64]*domain.SalesTransaction),
		carts:        make(map[int64]*domain.Cart),
		auditLogs:    make([]domain.AuditLog, 0, 128),
		users:        make(map[int64]domain.UserAccount),
		sequences:    make(map[string]int64),
	}
}

// SeedCredentialsFromEnv reports whether both seed passwords were supplied
// through the environment rather than falling back to dev defaults.
func SeedCredentialsFromEnv() bool {
	return os.Getenv("SEED_OWNER_PASSWORD") != "" && os.Getenv("SEED_STAFF_PASSWORD") != ""
}

// NewSeeded returns a store with demo users and a flower catalog. Seed users
// read SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD, falling back to dev
// defaults.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, u := range []struct {
		username string
		password string
		fullName string
		role     string
	}{
		{"owner", envOr("SEED_OWNER_PASSWORD", "owner123"), "Shop Owner", domain.RoleOwner},
		{"staff", envOr("SEED_STAFF_PASSWORD", "staff123"), "Front Staff", domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		id := s.nextID("user")
		s.users[id] = domain.UserAccount{
			ID:        id,
			Username:  u.username,
			Password:  string(hash),
			FullName:  u.fullName,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}

	catalog := []struct {
		sku   string
		name  string
		price string
		cost  string
	}{
		{"FLW-ROSE-RED-12", "Red Rose Bouquet (12)", "1200.00", "650.00"},
		{"FLW-ROSE-WHT-12", "White Rose Bouquet (12)", "1250.00", "680.00"},
		{"FLW-TULIP-MIX-10", "Mixed Tulips (10)", "1500.00", "900.00"},
		{"FLW-SUNF-3", "Sunflower Trio", "650.00", "320.00"},
		{"FLW-LILY-STG-5", "Stargazer Lilies (5)", "980.00", "540.00"},
		{"FLW-ORCH-POT", "Potted Phalaenopsis Orchid", "1800.00", "1100.00"},
		{"FLW-CARN-PNK-12", "Pink Carnations (12)", "550.00", "260.00"},
		{"FLW-BABY-BRTH", "Baby's Breath Bundle", "300.00", "120.00"},
		{"ACC-VASE-GLS", "Glass Vase", "450.00", "200.00"},
		{"ACC-RIBBON", "Satin Ribbon", "60.00", ""},
		{"ACC-CARD", "Greeting Card", "80.00", "25.00"},
	}
	for _, item := range catalog {
		cost := decimal.NullDecimal{}
		if item.cost != "" {
			cost = decimal.NewNullDecimal(decimal.RequireFromString(item.cost))
		}
		id := s.nextID("product")
		s.products[id] = domain.Product{
			ID:           id,
			SKU:          item.sku,
			Name:         item.name,
			UnitPrice:    decimal.RequireFromString(item.price),
			CostPrice:    cost,
			CurrentStock: 50,
			ReorderLevel: domain.DefaultReorderLevel,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.Active != nil && p.IsActive != *filter.Active {
			continue
		}
		if filter.LowStockOnly && !p.IsLowStock() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.SKU), search) &&
			!strings.Contains(strings.ToLower(p.Barcode), search) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(products) > filter.Limit {
		products = products[:filter.Limit]
	}
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

// UpdateProduct writes catalog fields only; stock, SKU and creation time are
// kept from the stored row.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.SKU = existing.SKU
	product.CurrentStock = existing.CurrentStock
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetMovement(_ context.Context, id int64) (*domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.movements {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.InventoryMovement, 0, len(s.movements))
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if filter.ProductID != nil && m.ProductID != *filter.ProductID {
			continue
		}
		if filter.MovementType != "" && m.MovementType != filter.MovementType {
			continue
		}
		if !withinRange(m.CreatedAt, filter.From, filter.To) {
			continue
		}
		movements = append(movements, m)
		if filter.Limit > 0 && len(movements) == filter.Limit {
			break
		}
	}
	return movements, nil
}

func (s *Store) GetAlert(_ context.Context, id int64) (*domain.LowStockAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &alert, nil
}

func (s *Store) ListAlerts(_ context.Context, filter domain.AlertFilter) ([]domain.LowStockAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]domain.LowStockAlert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		alerts = append(alerts, alert)
	}
	slices.SortFunc(alerts, func(a, b domain.LowStockAlert) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(alerts) > filter.Limit {
		alerts = alerts[:filter.Limit]
	}
	return alerts, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*domain.SalesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.cloneTransaction(tx, true), nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.SalesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.SalesTransaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.PaymentMethod != "" && tx.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.CreatedBy != nil && (tx.CreatedBy == nil || *tx.CreatedBy != *filter.CreatedBy) {
			continue
		}
		if !withinRange(tx.CreatedAt, filter.From, filter.To) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(tx.TransactionNumber), search) &&
			!strings.Contains(strings.ToLower(tx.CustomerName), search) {
			continue
		}
		result = append(result, *s.cloneTransaction(tx, filter.IncludeItems))
	}
	slices.SortFunc(result, func(a, b domain.SalesTransaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetActiveCart(_ context.Context, userID int64) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart := s.activeCart(userID)
	if cart == nil {
		return nil, store.ErrNotFound
	}
	return s.cloneCart(cart), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) == limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.users {
		if existing.Username == username {
			return nil, fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
	}
	user.ID = s.nextID("user")
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[user.ID] = user
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	for id, user := range s.users {
		if user.Username == username {
			user.Password = password
			s.users[id] = user
			return nil
		}
	}
	return store.ErrNotFound
}

// DeleteUser hard-deletes a user unless sales, movements or alerts still
// reference them. Their carts go with them.
func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	for _, tx := range s.transactions {
		if refersTo(tx.CreatedBy, id) || refersTo(tx.VoidedBy, id) {
			return fmt.Errorf("%w: user has sales transactions", store.ErrReferenced)
		}
	}
	for _, m := range s.movements {
		if refersTo(m.CreatedBy, id) {
			return fmt.Errorf("%w: user has inventory movements", store.ErrReferenced)
		}
	}
	for _, alert := range s.alerts {
		if refersTo(alert.AcknowledgedBy, id) {
			return fmt.Errorf("%w: user has acknowledged alerts", store.ErrReferenced)
		}
	}

	for cartID, cart := range s.carts {
		if cart.UserID == id {
			delete(s.carts, cartID)
		}
	}
	delete(s.users, id)
	return nil
}

func (s *Store) nextID(kind string) int64 {
	s.sequences[kind]++
	return s.sequences[kind]
}

func (s *Store) activeCart(userID int64) *domain.Cart {
	for _, cart := range s.carts {
		if cart.UserID == userID && cart.IsActive {
			return cart
		}
	}
	return nil
}

// cloneTransaction copies a transaction and, when asked, its items with the
// current product cost attached for profit calculation.
func (s *Store) cloneTransaction(src *domain.SalesTransaction, withItems bool) *domain.SalesTransaction {
	dst := *src
	dst.Items = nil
	if withItems {
		dst.Items = make([]domain.TransactionItem, len(src.Items))
		for i, item := range src.Items {
			if p, ok := s.products[item.ProductID]; ok {
				item.ProductSKU = p.SKU
				item.ProductName = p.Name
				item.CostPrice = p.CostPrice
			}
			dst.Items[i] = item
		}
	}
	return &dst
}

func (s *Store) cloneCart(src *domain.Cart) *domain.Cart {
	dst := *src
	dst.Items = make([]domain.CartItem, len(src.Items))
	for i, item := range src.Items {
		if p, ok := s.products[item.ProductID]; ok {
			item.ProductSKU = p.SKU
			item.ProductName = p.Name
		}
		dst.Items[i] = item
	}
	return &dst
}

func withinRange(at time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && !at.Before(*to) {
		return false
	}
	return true
}

func refersTo(ref *int64, id int64) bool {
	return ref != nil && *ref == id
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
