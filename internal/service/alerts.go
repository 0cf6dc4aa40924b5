package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

func (s *Service) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.LowStockAlert, error) {
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	switch filter.Status {
	case "", domain.AlertPending, domain.AlertAcknowledged, domain.AlertResolved:
	default:
		return nil, fmt.Errorf("%w: unknown alert status %q", store.ErrValidation, filter.Status)
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	return s.repo.ListAlerts(ctx, filter)
}

func (s *Service) GetAlert(ctx context.Context, id int64) (domain.LowStockAlert, error) {
	alert, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return domain.LowStockAlert{}, err
	}
	return *alert, nil
}

// AcknowledgeAlert moves a PENDING alert to ACKNOWLEDGED.
func (s *Service) AcknowledgeAlert(ctx context.Context, id int64) (domain.LowStockAlert, error) {
	alert, err := s.transitionAlert(ctx, id, func(alert *domain.LowStockAlert) error {
		if alert.Status != domain.AlertPending {
			return fmt.Errorf("%w: alert %d is %s, only PENDING alerts can be acknowledged", store.ErrConflict, alert.ID, alert.Status)
		}
		now := s.now().UTC()
		alert.Status = domain.AlertAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = actorID(ctx)
		return nil
	})
	if err != nil {
		return domain.LowStockAlert{}, err
	}
	s.logAudit(ctx, domain.AuditUpdate, "low_stock_alert", strconv.FormatInt(id, 10), "acknowledged")
	return alert, nil
}

// ResolveAlert closes a PENDING or ACKNOWLEDGED alert. RESOLVED is terminal.
func (s *Service) ResolveAlert(ctx context.Context, id int64) (domain.LowStockAlert, error) {
	alert, err := s.transitionAlert(ctx, id, func(alert *domain.LowStockAlert) error {
		if alert.Status == domain.AlertResolved {
			return fmt.Errorf("%w: alert %d is already resolved", store.ErrConflict, alert.ID)
		}
		now := s.now().UTC()
		alert.Status = domain.AlertResolved
		alert.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return domain.LowStockAlert{}, err
	}
	s.logAudit(ctx, domain.AuditUpdate, "low_stock_alert", strconv.FormatInt(id, 10), "resolved")
	return alert, nil
}

func (s *Service) transitionAlert(ctx context.Context, id int64, apply func(alert *domain.LowStockAlert) error) (domain.LowStockAlert, error) {
	var updated domain.LowStockAlert
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		alert, err := tx.LockAlert(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(alert); err != nil {
			return err
		}
		if err := tx.UpdateAlert(ctx, *alert); err != nil {
			return err
		}
		updated = *alert
		return nil
	})
	return updated, err
}
