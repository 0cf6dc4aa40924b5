package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

// transactionNumberAttempts bounds how often a colliding number is
// regenerated inside one unit of work.
const transactionNumberAttempts = 2

type saleLine struct {
	product   domain.Product
	quantity  int
	unitPrice decimal.Decimal
	discount  decimal.Decimal
}

// CreateSale records a direct sale at catalog prices and completes it in one
// unit of work.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.TransactionDetail, error) {
	details, err := normalizePayment(req.PaymentDetails)
	if err != nil {
		return domain.TransactionDetail{}, err
	}
	if len(req.Items) == 0 {
		return domain.TransactionDetail{}, fmt.Errorf("%w: a sale needs at least one item", store.ErrValidation)
	}
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID < 1 {
			return domain.TransactionDetail{}, fmt.Errorf("%w: product id is required", store.ErrValidation)
		}
		if item.Quantity < 1 {
			return domain.TransactionDetail{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
		}
		if item.Discount.IsNegative() {
			return domain.TransactionDetail{}, fmt.Errorf("%w: line discount cannot be negative", store.ErrValidation)
		}
		if !domain.IsMoneyPrecise(item.Discount) {
			return domain.TransactionDetail{}, fmt.Errorf("%w: line discount has more than %d decimal places", store.ErrValidation, domain.MoneyScale)
		}
		ids = append(ids, item.ProductID)
	}

	var created domain.SalesTransaction
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return err
		}

		lines := make([]saleLine, 0, len(req.Items))
		for _, item := range req.Items {
			product, ok := products[item.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d", store.ErrNotFound, item.ProductID)
			}
			if !product.IsActive {
				return fmt.Errorf("%w: %s is not available for sale", store.ErrValidation, product.Name)
			}
			lines = append(lines, saleLine{
				product:   product,
				quantity:  item.Quantity,
				unitPrice: product.UnitPrice,
				discount:  item.Discount,
			})
		}

		created, err = s.completeSale(ctx, tx, details, lines)
		return err
	})
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	s.afterSale(ctx, created)
	return domain.NewTransactionDetail(created), nil
}

// Checkout turns the user's active cart into a completed sale at the cart's
// price snapshots, then empties and deactivates the cart. A failed checkout
// leaves the cart as it was.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.TransactionDetail, error) {
	userID, err := cartUserID(ctx)
	if err != nil {
		return domain.TransactionDetail{}, err
	}
	details, err := normalizePayment(req.PaymentDetails)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	var created domain.SalesTransaction
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cart, err := tx.LockActiveCart(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: no active cart", store.ErrNotFound)
			}
			return err
		}
		if len(cart.Items) == 0 {
			return fmt.Errorf("%w: cart is empty", store.ErrValidation)
		}

		ids := make([]int64, 0, len(cart.Items))
		for _, item := range cart.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return err
		}

		lines := make([]saleLine, 0, len(cart.Items))
		for _, item := range cart.Items {
			product, ok := products[item.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d", store.ErrNotFound, item.ProductID)
			}
			if !product.IsActive {
				return fmt.Errorf("%w: %s is no longer available for sale", store.ErrValidation, product.Name)
			}
			lines = append(lines, saleLine{
				product:   product,
				quantity:  item.Quantity,
				unitPrice: item.UnitPrice,
				discount:  decimal.Zero,
			})
		}

		created, err = s.completeSale(ctx, tx, details, lines)
		if err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return err
		}
		return tx.DeactivateCart(ctx, cart.ID)
	})
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	s.afterSale(ctx, created)
	return domain.NewTransactionDetail(created), nil
}

// completeSale is the create-and-complete protocol shared by direct sales
// and checkout. It must run inside the caller's unit of work.
func (s *Service) completeSale(ctx context.Context, tx store.Tx, details domain.PaymentDetails, lines []saleLine) (domain.SalesTransaction, error) {
	requested := make(map[int64]int, len(lines))
	for _, line := range lines {
		requested[line.product.ID] += line.quantity
	}
	for _, line := range lines {
		if qty := requested[line.product.ID]; qty > line.product.CurrentStock {
			return domain.SalesTransaction{}, store.InsufficientStock(line.product.Name, line.product.CurrentStock, qty)
		}
	}

	items := make([]domain.TransactionItem, 0, len(lines))
	for _, line := range lines {
		lineTotal := domain.ComputeLineTotal(line.unitPrice, line.quantity, line.discount)
		if lineTotal.IsNegative() {
			return domain.SalesTransaction{}, fmt.Errorf("%w: discount exceeds line amount for %s", store.ErrValidation, line.product.Name)
		}
		items = append(items, domain.TransactionItem{
			ProductID: line.product.ID,
			Quantity:  line.quantity,
			UnitPrice: line.unitPrice,
			Discount:  line.discount,
			LineTotal: lineTotal,
		})
	}

	amountPaid := details.AmountPaid
	if details.PaymentMethod != domain.PaymentCash && amountPaid.IsZero() {
		amountPaid = domain.ComputeTotals(items, details.Tax, details.Discount, decimal.Zero).Total
	}
	totals := domain.ComputeTotals(items, details.Tax, details.Discount, amountPaid)
	if totals.Total.IsNegative() {
		return domain.SalesTransaction{}, fmt.Errorf("%w: discount exceeds the sale amount", store.ErrValidation)
	}
	if details.PaymentMethod == domain.PaymentCash && amountPaid.LessThan(totals.Total) {
		return domain.SalesTransaction{}, fmt.Errorf("%w: amount paid %s is less than total %s",
			store.ErrValidation, amountPaid.StringFixed(2), totals.Total.StringFixed(2))
	}

	now := s.now()
	completedAt := now.UTC()
	header, err := s.insertWithNumber(ctx, tx, domain.TransactionNumberPrefix(now.In(s.loc)), domain.SalesTransaction{
		Status:           domain.TxStatusCompleted,
		CustomerName:     details.CustomerName,
		CustomerPhone:    details.CustomerPhone,
		CustomerEmail:    details.CustomerEmail,
		Subtotal:         totals.Subtotal,
		Tax:              details.Tax,
		Discount:         details.Discount,
		TotalAmount:      totals.Total,
		AmountPaid:       amountPaid,
		ChangeAmount:     totals.ChangeAmount,
		PaymentMethod:    details.PaymentMethod,
		PaymentReference: details.PaymentReference,
		Notes:            details.Notes,
		CreatedBy:        actorID(ctx),
		CreatedAt:        completedAt,
		CompletedAt:      &completedAt,
	})
	if err != nil {
		return domain.SalesTransaction{}, err
	}

	// Ascending product id keeps row lock order stable across concurrent sales.
	ordered := make([]saleLine, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].product.ID < ordered[j].product.ID
	})

	customer := defaultString(details.CustomerName, "Walk-in")
	for _, line := range ordered {
		change, err := tx.DeductStock(ctx, line.product.ID, line.quantity)
		if err != nil {
			return domain.SalesTransaction{}, err
		}
		_, err = s.recordMovement(ctx, tx, domain.InventoryMovement{
			ProductID:       line.product.ID,
			MovementType:    domain.MovementSale,
			Quantity:        line.quantity,
			StockBefore:     change.Before,
			StockAfter:      change.After,
			ReferenceNumber: header.TransactionNumber,
			Reason:          fmt.Sprintf("Sale - Transaction #%s", header.TransactionNumber),
			Notes:           "Customer: " + customer,
			TransactionID:   &header.ID,
		})
		if err != nil {
			return domain.SalesTransaction{}, err
		}
		if err := s.maybeRaise(ctx, tx, line.product, change.After); err != nil {
			return domain.SalesTransaction{}, err
		}
	}

	saved, err := tx.InsertTransactionItems(ctx, header.ID, items)
	if err != nil {
		return domain.SalesTransaction{}, err
	}
	header.Items = saved
	return *header, nil
}

// insertWithNumber assigns TXN-YYYYMMDD-NNNN from the day's highest sequence
// and regenerates it once if another sale took the same number first.
func (s *Service) insertWithNumber(ctx context.Context, tx store.Tx, prefix string, header domain.SalesTransaction) (*domain.SalesTransaction, error) {
	for attempt := 1; ; attempt++ {
		last, err := tx.LastTransactionSequence(ctx, prefix)
		if err != nil {
			return nil, err
		}
		header.TransactionNumber = domain.FormatTransactionNumber(prefix, last+1)

		inserted, err := tx.InsertTransaction(ctx, header)
		if err == nil {
			return inserted, nil
		}
		if !errors.Is(err, store.ErrDuplicateTransactionNumber) || attempt >= transactionNumberAttempts {
			return nil, err
		}
		s.logger.Warn("transaction number taken, regenerating",
			zap.String("transaction_number", header.TransactionNumber),
			zap.Int("attempt", attempt))
	}
}

// VoidTransaction reverses a completed sale: stock is restored line by line
// with RETURN movements and the header is marked VOID. Voiding a VOID
// transaction changes nothing and reports AlreadyVoided.
func (s *Service) VoidTransaction(ctx context.Context, id int64, reason string) (domain.VoidResponse, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.VoidResponse{}, fmt.Errorf("%w: void reason is required", store.ErrValidation)
	}

	var resp domain.VoidResponse
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		resp = domain.VoidResponse{}
		header, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if header.Status == domain.TxStatusVoid {
			resp = domain.VoidResponse{Transaction: *header, AlreadyVoided: true}
			return nil
		}
		if header.Status != domain.TxStatusCompleted {
			return fmt.Errorf("%w: transaction %s is %s, only COMPLETED transactions can be voided",
				store.ErrConflict, header.TransactionNumber, header.Status)
		}

		items := make([]domain.TransactionItem, len(header.Items))
		copy(items, header.Items)
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].ProductID < items[j].ProductID
		})

		reference := "VOID-" + header.TransactionNumber
		for _, item := range items {
			change, err := tx.RestoreStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			_, err = s.recordMovement(ctx, tx, domain.InventoryMovement{
				ProductID:       item.ProductID,
				MovementType:    domain.MovementReturn,
				Quantity:        item.Quantity,
				StockBefore:     change.Before,
				StockAfter:      change.After,
				ReferenceNumber: reference,
				Reason:          fmt.Sprintf("Voided transaction %s: %s", header.TransactionNumber, reason),
				TransactionID:   &header.ID,
			})
			if err != nil {
				return err
			}
		}

		voidedAt := s.now().UTC()
		voidedBy := actorID(ctx)
		if err := tx.MarkTransactionVoid(ctx, header.ID, voidedBy, voidedAt, reason); err != nil {
			return err
		}
		header.Status = domain.TxStatusVoid
		header.VoidedBy = voidedBy
		header.VoidedAt = &voidedAt
		header.VoidReason = reason
		resp = domain.VoidResponse{Transaction: *header}
		return nil
	})
	if err != nil {
		return domain.VoidResponse{}, err
	}
	if resp.AlreadyVoided {
		return resp, nil
	}

	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate cached transaction", zap.Int64("transaction_id", id), zap.Error(err))
	}
	s.logAudit(ctx, domain.AuditUpdate, "sales_transaction", strconv.FormatInt(id, 10),
		fmt.Sprintf("void %s reason=%s", resp.Transaction.TransactionNumber, reason))
	s.publish(ctx, domain.NewSaleEvent(domain.EventSaleVoided, resp.Transaction, s.now().UTC()))
	return resp, nil
}

// GetTransaction reads through the transaction cache. Cache failures fall
// back to the store.
func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.TransactionDetail, error) {
	cached, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("transaction cache read failed", zap.Int64("transaction_id", id), zap.Error(err))
	}
	if ok {
		return *cached, nil
	}

	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.TransactionDetail{}, err
	}
	detail := domain.NewTransactionDetail(*tx)
	if err := s.cache.Set(ctx, detail); err != nil {
		s.logger.Warn("transaction cache write failed", zap.Int64("transaction_id", id), zap.Error(err))
	}
	return detail, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.SalesTransaction, error) {
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	switch filter.Status {
	case "", domain.TxStatusPending, domain.TxStatusCompleted, domain.TxStatusVoid, domain.TxStatusRefunded:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, filter.Status)
	}
	filter.PaymentMethod = strings.ToUpper(strings.TrimSpace(filter.PaymentMethod))
	if filter.PaymentMethod != "" && !domain.IsPaymentMethod(filter.PaymentMethod) {
		return nil, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, filter.PaymentMethod)
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: date range is empty", store.ErrValidation)
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	return s.repo.ListTransactions(ctx, filter)
}

// SalesSummary totals one shop day. Voided sales are counted separately and
// excluded from every amount.
func (s *Service) SalesSummary(ctx context.Context, date string) (domain.SalesSummary, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.SalesSummary{}, err
	}
	from, to, err := s.dayRange(date)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	fromUTC, toUTC := from.UTC(), to.UTC()

	transactions, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{
		From:         &fromUTC,
		To:           &toUTC,
		IncludeItems: true,
	})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{
		Date:       from.Format("2006-01-02"),
		GrossSales: decimal.Zero,
		Discount:   decimal.Zero,
		Tax:        decimal.Zero,
		NetSales:   decimal.Zero,
		Profit:     decimal.Zero,
		ByPayment:  []domain.PaymentSummary{},
		ByStaff:    []domain.StaffSummary{},
	}
	byPayment := make(map[string]*domain.PaymentSummary)
	byStaff := make(map[int64]*domain.StaffSummary)
	for _, tx := range transactions {
		switch tx.Status {
		case domain.TxStatusVoid:
			summary.VoidedTransactions++
			continue
		case domain.TxStatusCompleted:
		default:
			continue
		}

		summary.Transactions++
		summary.GrossSales = summary.GrossSales.Add(tx.Subtotal)
		summary.Discount = summary.Discount.Add(tx.Discount)
		summary.Tax = summary.Tax.Add(tx.Tax)
		summary.NetSales = summary.NetSales.Add(tx.TotalAmount)
		summary.Profit = summary.Profit.Add(domain.Profit(tx.Items))

		payment, ok := byPayment[tx.PaymentMethod]
		if !ok {
			payment = &domain.PaymentSummary{PaymentMethod: tx.PaymentMethod, Total: decimal.Zero}
			byPayment[tx.PaymentMethod] = payment
		}
		payment.Transactions++
		payment.Total = payment.Total.Add(tx.TotalAmount)

		var staffID int64
		if tx.CreatedBy != nil {
			staffID = *tx.CreatedBy
		}
		staff, ok := byStaff[staffID]
		if !ok {
			staff = &domain.StaffSummary{UserID: staffID, Total: decimal.Zero}
			byStaff[staffID] = staff
		}
		staff.Transactions++
		staff.Total = staff.Total.Add(tx.TotalAmount)
	}

	for _, payment := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *payment)
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})
	for _, staff := range byStaff {
		summary.ByStaff = append(summary.ByStaff, *staff)
	}
	sort.Slice(summary.ByStaff, func(i, j int) bool {
		return summary.ByStaff[i].UserID < summary.ByStaff[j].UserID
	})
	return summary, nil
}

// afterSale runs the side effects of a committed sale. None of them can
// fail the sale.
func (s *Service) afterSale(ctx context.Context, tx domain.SalesTransaction) {
	s.logAudit(ctx, domain.AuditCreate, "sales_transaction", strconv.FormatInt(tx.ID, 10),
		fmt.Sprintf("number=%s,total=%s,payment=%s,items=%d", tx.TransactionNumber, tx.TotalAmount.StringFixed(2), tx.PaymentMethod, len(tx.Items)))
	s.logger.Info("sale completed",
		zap.String("transaction_number", tx.TransactionNumber),
		zap.String("total", tx.TotalAmount.StringFixed(2)),
		zap.String("payment_method", tx.PaymentMethod))
	s.publish(ctx, domain.NewSaleEvent(domain.EventSaleCompleted, tx, s.now().UTC()))
}

func (s *Service) publish(ctx context.Context, event domain.SaleEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish sale event",
			zap.String("type", event.Type),
			zap.String("transaction_number", event.TransactionNumber),
			zap.Error(err))
	}
}

func normalizePayment(details domain.PaymentDetails) (domain.PaymentDetails, error) {
	details.PaymentMethod = strings.ToUpper(strings.TrimSpace(details.PaymentMethod))
	if details.PaymentMethod == "" {
		details.PaymentMethod = domain.PaymentCash
	}
	if !domain.IsPaymentMethod(details.PaymentMethod) {
		return domain.PaymentDetails{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, details.PaymentMethod)
	}
	if details.Tax.IsNegative() || details.Discount.IsNegative() || details.AmountPaid.IsNegative() {
		return domain.PaymentDetails{}, fmt.Errorf("%w: tax, discount and amount paid cannot be negative", store.ErrValidation)
	}
	for _, amount := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"tax", details.Tax},
		{"discount", details.Discount},
		{"amount paid", details.AmountPaid},
	} {
		if !domain.IsMoneyPrecise(amount.value) {
			return domain.PaymentDetails{}, fmt.Errorf("%w: %s has more than %d decimal places", store.ErrValidation, amount.name, domain.MoneyScale)
		}
	}
	details.PaymentReference = strings.TrimSpace(details.PaymentReference)
	details.Notes = strings.TrimSpace(details.Notes)
	details.CustomerName = strings.TrimSpace(details.CustomerName)
	details.CustomerPhone = strings.TrimSpace(details.CustomerPhone)
	details.CustomerEmail = strings.TrimSpace(details.CustomerEmail)
	return details, nil
}
