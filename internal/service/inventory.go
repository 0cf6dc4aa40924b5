package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

const adjustmentReferenceLayout = "20060102150405"

func (s *Service) GetMovement(ctx context.Context, id int64) (domain.InventoryMovement, error) {
	movement, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	return *movement, nil
}

func (s *Service) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	if filter.MovementType != "" && !domain.IsMovementType(filter.MovementType) {
		return nil, fmt.Errorf("%w: unknown movement type %q", store.ErrValidation, filter.MovementType)
	}
	if filter.Limit < 1 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// CreateMovement records a manual STOCK_IN, STOCK_OUT or DAMAGE movement and
// applies it to the ledger. SALE and RETURN are produced only by sales and
// voids; ADJUSTMENT goes through AdjustStock.
func (s *Service) CreateMovement(ctx context.Context, req domain.MovementCreateRequest) (domain.InventoryMovement, error) {
	req.MovementType = strings.ToUpper(strings.TrimSpace(req.MovementType))
	switch req.MovementType {
	case domain.MovementStockIn, domain.MovementStockOut, domain.MovementDamage:
	default:
		return domain.InventoryMovement{}, fmt.Errorf("%w: movement type must be STOCK_IN, STOCK_OUT or DAMAGE", store.ErrValidation)
	}
	if req.Quantity < 1 {
		return domain.InventoryMovement{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
	}

	var recorded domain.InventoryMovement
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := getProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}

		var change domain.StockChange
		if req.MovementType == domain.MovementStockIn {
			change, err = tx.RestoreStock(ctx, product.ID, req.Quantity)
		} else {
			change, err = tx.DeductStock(ctx, product.ID, req.Quantity)
		}
		if err != nil {
			return err
		}

		movement, err := s.recordMovement(ctx, tx, domain.InventoryMovement{
			ProductID:       product.ID,
			MovementType:    req.MovementType,
			Quantity:        req.Quantity,
			StockBefore:     change.Before,
			StockAfter:      change.After,
			ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
			Reason:          strings.TrimSpace(req.Reason),
			Notes:           strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return err
		}
		recorded = *movement

		if domain.IsStockReducing(req.MovementType) {
			return s.maybeRaise(ctx, tx, product, change.After)
		}
		return nil
	})
	if err != nil {
		return domain.InventoryMovement{}, err
	}

	s.logAudit(ctx, domain.AuditCreate, "inventory_movement", strconv.FormatInt(recorded.ID, 10),
		fmt.Sprintf("product=%d,type=%s,qty=%d,stock=%d->%d", recorded.ProductID, recorded.MovementType, recorded.Quantity, recorded.StockBefore, recorded.StockAfter))
	return recorded, nil
}

// AdjustStock sets an absolute stock level after a physical count and logs
// the difference as one ADJUSTMENT movement.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.StockAdjustmentResponse, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.StockAdjustmentResponse{}, err
	}
	if req.NewStockLevel < 0 {
		return domain.StockAdjustmentResponse{}, fmt.Errorf("%w: new stock level cannot be negative", store.ErrValidation)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.StockAdjustmentResponse{}, fmt.Errorf("%w: adjustment reason is required", store.ErrValidation)
	}

	var resp domain.StockAdjustmentResponse
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := getProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if product.CurrentStock == req.NewStockLevel {
			return fmt.Errorf("%w: stock is already %d", store.ErrValidation, req.NewStockLevel)
		}

		change, err := tx.SetStock(ctx, product.ID, req.NewStockLevel)
		if err != nil {
			return err
		}
		if change.Before == change.After {
			return fmt.Errorf("%w: stock is already %d", store.ErrValidation, req.NewStockLevel)
		}

		quantity := change.After - change.Before
		if quantity < 0 {
			quantity = -quantity
		}
		movement, err := s.recordMovement(ctx, tx, domain.InventoryMovement{
			ProductID:       product.ID,
			MovementType:    domain.MovementAdjustment,
			Quantity:        quantity,
			StockBefore:     change.Before,
			StockAfter:      change.After,
			ReferenceNumber: "ADJ-" + s.now().In(s.loc).Format(adjustmentReferenceLayout),
			Reason:          reason,
			Notes:           strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return err
		}

		product.CurrentStock = change.After
		resp = domain.StockAdjustmentResponse{Movement: *movement, Product: product}
		return s.maybeRaise(ctx, tx, product, change.After)
	})
	if err != nil {
		return domain.StockAdjustmentResponse{}, err
	}

	s.logAudit(ctx, domain.AuditUpdate, "product", strconv.FormatInt(resp.Product.ID, 10),
		fmt.Sprintf("adjustment %d->%d reason=%s", resp.Movement.StockBefore, resp.Movement.StockAfter, reason))
	return resp, nil
}

// recordMovement appends one movement after checking that its quantity
// explains the before/after pair.
func (s *Service) recordMovement(ctx context.Context, tx store.Tx, movement domain.InventoryMovement) (*domain.InventoryMovement, error) {
	if err := domain.ValidateMovement(movement); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if movement.CreatedBy == nil {
		movement.CreatedBy = actorID(ctx)
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = s.now().UTC()
	}
	return tx.RecordMovement(ctx, movement)
}

// maybeRaise opens a PENDING alert when stock has fallen to the reorder level
// and the product has no PENDING alert yet.
func (s *Service) maybeRaise(ctx context.Context, tx store.Tx, product domain.Product, stockAfter int) error {
	if stockAfter > product.ReorderLevel {
		return nil
	}
	pending, err := tx.HasPendingAlert(ctx, product.ID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	alert, err := tx.InsertAlert(ctx, domain.LowStockAlert{
		ProductID:    product.ID,
		CurrentStock: stockAfter,
		ReorderLevel: product.ReorderLevel,
		Status:       domain.AlertPending,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return err
	}
	s.logger.Info("low stock alert raised",
		zap.Int64("alert_id", alert.ID),
		zap.String("sku", product.SKU),
		zap.Int("stock", stockAfter),
		zap.Int("reorder_level", product.ReorderLevel))
	return nil
}

func getProduct(ctx context.Context, tx store.Tx, id int64) (domain.Product, error) {
	products, err := tx.GetProducts(ctx, []int64{id})
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
	}
	return product, nil
}
