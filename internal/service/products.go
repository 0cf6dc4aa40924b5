package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct inserts a product and, when initial stock is given, records
// it as a STOCK_IN movement in the same unit of work.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: sku and name are required", store.ErrValidation)
	}
	if err := validatePrices(req.UnitPrice, req.CostPrice); err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: initial stock cannot be negative", store.ErrValidation)
	}
	reorderLevel := domain.DefaultReorderLevel
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, fmt.Errorf("%w: reorder level cannot be negative", store.ErrValidation)
		}
		reorderLevel = *req.ReorderLevel
	}

	var created domain.Product
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.InsertProduct(ctx, domain.Product{
			SKU:          req.SKU,
			Name:         req.Name,
			Description:  strings.TrimSpace(req.Description),
			Barcode:      strings.TrimSpace(req.Barcode),
			UnitPrice:    req.UnitPrice,
			CostPrice:    req.CostPrice,
			ReorderLevel: reorderLevel,
			IsActive:     true,
		})
		if err != nil {
			return err
		}
		created = *product
		if req.InitialStock == 0 {
			return nil
		}

		change, err := tx.RestoreStock(ctx, product.ID, req.InitialStock)
		if err != nil {
			return err
		}
		_, err = s.recordMovement(ctx, tx, domain.InventoryMovement{
			ProductID:    product.ID,
			MovementType: domain.MovementStockIn,
			Quantity:     req.InitialStock,
			StockBefore:  change.Before,
			StockAfter:   change.After,
			Reason:       "Initial stock",
		})
		if err != nil {
			return err
		}
		created.CurrentStock = change.After
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, domain.AuditCreate, "product", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("sku=%s,name=%s,price=%s,stock=%d", created.SKU, created.Name, created.UnitPrice.StringFixed(2), created.CurrentStock))
	return created, nil
}

// UpdateProduct changes catalog fields. Stock is owned by the ledger and
// cannot be written here.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.UnitPrice != nil {
		updated.UnitPrice = *req.UnitPrice
	}
	if req.CostPrice != nil {
		updated.CostPrice = *req.CostPrice
	}
	if err := validatePrices(updated.UnitPrice, updated.CostPrice); err != nil {
		return domain.Product{}, err
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, fmt.Errorf("%w: reorder level cannot be negative", store.ErrValidation)
		}
		updated.ReorderLevel = *req.ReorderLevel
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, domain.AuditUpdate, "product", strconv.FormatInt(saved.ID, 10),
		fmt.Sprintf("name=%s,price=%s,reorder_level=%d,active=%t", saved.Name, saved.UnitPrice.StringFixed(2), saved.ReorderLevel, saved.IsActive))
	return *saved, nil
}

// DeactivateProduct is a soft delete; history keeps referencing the row.
func (s *Service) DeactivateProduct(ctx context.Context, id int64) (domain.Product, error) {
	inactive := false
	return s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{IsActive: &inactive})
}

func validatePrices(unitPrice decimal.Decimal, costPrice decimal.NullDecimal) error {
	if !unitPrice.IsPositive() {
		return fmt.Errorf("%w: unit price must be greater than zero", store.ErrValidation)
	}
	if !domain.IsMoneyPrecise(unitPrice) {
		return fmt.Errorf("%w: unit price has more than %d decimal places", store.ErrValidation, domain.MoneyScale)
	}
	if !costPrice.Valid {
		return nil
	}
	if !domain.IsMoneyPrecise(costPrice.Decimal) {
		return fmt.Errorf("%w: cost price has more than %d decimal places", store.ErrValidation, domain.MoneyScale)
	}
	if !costPrice.Decimal.IsPositive() {
		return fmt.Errorf("%w: cost price must be greater than zero", store.ErrValidation)
	}
	if costPrice.Decimal.GreaterThan(unitPrice) {
		return fmt.Errorf("%w: cost price cannot exceed unit price", store.ErrValidation)
	}
	return nil
}
