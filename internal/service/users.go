package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if _, err := requireOwner(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.UserAccount{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrValidation)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", store.ErrValidation)
	}
	if err := validatePassword(req.Password); err != nil {
		return domain.UserAccount{}, err
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleStaff
	}
	if role != domain.RoleOwner && role != domain.RoleStaff {
		return domain.UserAccount{}, fmt.Errorf("%w: role must be owner or staff", store.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		FullName:  strings.TrimSpace(req.FullName),
		Role:      role,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.UserAccount{}, err
	}

	s.logAudit(ctx, domain.AuditCreate, "user", strconv.FormatInt(created.ID, 10), fmt.Sprintf("username=%s,role=%s", created.Username, created.Role))
	return *created, nil
}

// DeleteUser hard-deletes an account. Users referenced by sales or stock
// history cannot be deleted.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	actor, err := requireOwner(ctx)
	if err != nil {
		return err
	}
	if actor.UserID == id {
		return fmt.Errorf("%w: you cannot delete your own account", store.ErrValidation)
	}

	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, domain.AuditDelete, "user", strconv.FormatInt(id, 10), "")
	return nil
}

// RecordLogin writes the LOGIN audit entry for a successful sign-in.
func (s *Service) RecordLogin(ctx context.Context, actor domain.Actor) {
	s.logAudit(WithActor(ctx, actor), domain.AuditLogin, "user", strconv.FormatInt(actor.UserID, 10), "")
}

// CurrentUser returns the signed-in account.
func (s *Service) CurrentUser(ctx context.Context) (domain.UserAccount, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID < 1 {
		return domain.UserAccount{}, fmt.Errorf("%w: sign-in required", ErrForbidden)
	}
	return s.findUser(ctx, actor.UserID)
}

// ChangePassword replaces the signed-in user's password after checking the
// current one. Tokens already issued stay valid until they expire.
func (s *Service) ChangePassword(ctx context.Context, req domain.PasswordChangeRequest) error {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.OldPassword)) != nil {
		return fmt.Errorf("%w: current password is incorrect", store.ErrValidation)
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword == req.OldPassword {
		return fmt.Errorf("%w: new password must differ from the current one", store.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdateUserPassword(ctx, user.Username, string(hash)); err != nil {
		return err
	}
	s.logAudit(ctx, domain.AuditUpdate, "user", strconv.FormatInt(user.ID, 10), "password changed")
	return nil
}

func (s *Service) findUser(ctx context.Context, id int64) (domain.UserAccount, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, err
	}
	for _, user := range users {
		if user.ID == id {
			if !user.Active {
				return domain.UserAccount{}, errors.Join(ErrForbidden, errors.New("account is inactive"))
			}
			return user, nil
		}
	}
	return domain.UserAccount{}, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", store.ErrValidation)
	}
	return nil
}
