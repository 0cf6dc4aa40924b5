package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flowerbelle/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestLoginUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				ID:        1,
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthenticator("test-secret", time.Hour, "123456", store)
	_, actor, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if actor.UserID != 1 || actor.Role != domain.RoleOwner {
		t.Fatalf("unexpected actor %+v", actor)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if users[0].Password == "owner123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", store.updates)
	}
}

func TestLoginRejectsInactiveAndUnknownUsers(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"staff": {ID: 2, Username: "staff", Password: "staff123", Role: domain.RoleStaff, Active: false},
		},
	}
	manager := NewAuthenticator("test-secret", time.Hour, "123456", store)

	if _, _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "staff", Password: "staff123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
	if _, _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "staff123"}); err == nil {
		t.Fatalf("expected unknown account to be rejected")
	}
}

func TestLoginPicksUpUsersCreatedAfterStartup(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthenticator("test-secret", time.Hour, "123456", store)

	store.mu.Lock()
	store.users["florist"] = domain.UserAccount{ID: 7, Username: "florist", Password: mustHashPassword(t, "petals123"), Role: domain.RoleStaff, Active: true}
	store.mu.Unlock()

	_, actor, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Florist", Password: "petals123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if actor.UserID != 7 || actor.Username != "florist" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestTokenRoundTripCarriesUserID(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"staff": {ID: 2, Username: "staff", Password: mustHashPassword(t, "staff123"), Role: domain.RoleStaff, Active: true},
		},
	}
	manager := NewAuthenticator("test-secret", time.Hour, "123456", store)

	resp, _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "staff", Password: "staff123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.UserID != 2 || actor.Username != "staff" || actor.Role != domain.RoleStaff {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthenticator("other-secret", time.Hour, "123456", store)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthenticator("test-secret", time.Hour, "654321", store)

	if string(manager.pinHash) == "654321" || len(manager.pinHash) == 0 {
		t.Fatalf("expected manager pin to be stored as hash, got %q", manager.pinHash)
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestEmptyManagerPINDisablesOverride(t *testing.T) {
	manager := NewAuthenticator("test-secret", time.Hour, "  ", &userStoreStub{users: map[string]domain.UserAccount{}})

	for _, pin := range []string{"", " ", "disabled"} {
		if manager.ValidateManagerPIN(pin) {
			t.Fatalf("expected pin %q to be rejected when no pin is configured", pin)
		}
	}
}

func TestLoginKeepsDirectoryWhenStoreFails(t *testing.T) {
	store := &flakyUserStore{userStoreStub: userStoreStub{
		users: map[string]domain.UserAccount{
			"staff": {ID: 2, Username: "staff", Password: mustHashPassword(t, "staff123"), Role: domain.RoleStaff, Active: true},
		},
	}}
	manager := NewAuthenticator("test-secret", time.Hour, "123456", store)

	store.fail = true
	if _, _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "staff", Password: "staff123"}); err != nil {
		t.Fatalf("expected cached account to still sign in, got %v", err)
	}
}

type flakyUserStore struct {
	userStoreStub
	fail bool
}

func (s *flakyUserStore) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if s.fail {
		return nil, errors.New("connection refused")
	}
	return s.userStoreStub.ListUsers(ctx)
}
