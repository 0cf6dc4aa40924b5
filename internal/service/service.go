package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowerbelle/backend/internal/cache"
	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/events"
	"flowerbelle/backend/internal/store"
	"flowerbelle/backend/internal/xid"
)

// ErrForbidden is returned when the actor's role may not run an operation.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	cache     cache.TransactionCache
	publisher events.Publisher
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

// New wires the engine. Nil collaborators fall back to no-op versions and a
// nil location means UTC.
func New(repo store.Repository, txCache cache.TransactionCache, publisher events.Publisher, logger *zap.Logger, loc *time.Location) *Service {
	if txCache == nil {
		txCache = cache.NoopTransactionCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		repo:      repo,
		cache:     txCache,
		publisher: publisher,
		logger:    logger.Named("service"),
		loc:       loc,
		now:       time.Now,
	}
}

func requireOwner(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return domain.Actor{}, fmt.Errorf("%w: owner role required", ErrForbidden)
	}
	return actor, nil
}

// actorID is the user id recorded on rows written for the current actor.
func actorID(ctx context.Context) *int64 {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID < 1 {
		return nil
	}
	id := actor.UserID
	return &id
}

// dayRange returns [start, start+24h) of a YYYY-MM-DD date in the shop's
// timezone; an empty date means today.
func (s *Service) dayRange(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := s.now().In(s.loc)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), s.loc)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrValidation
		}
		day = parsed
	}
	return day, day.AddDate(0, 0, 1), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireOwner(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	from, to, err := s.dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from.UTC(), to.UTC(), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// Location is the shop timezone used for calendar days.
func (s *Service) Location() *time.Location {
	return s.loc
}
