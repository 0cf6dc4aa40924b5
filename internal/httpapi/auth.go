package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"flowerbelle/backend/internal/domain"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errAccountInactive    = errors.New("account is inactive")
)

// Authenticator checks shop credentials and turns them into signed sessions.
type Authenticator struct {
	accounts *accountDirectory
	sessions sessionSigner
	pinHash  []byte
}

// NewAuthenticator primes the account directory from store. An empty PIN
// leaves manager overrides disabled.
func NewAuthenticator(secret string, sessionTTL time.Duration, managerPIN string, store AccountStore) *Authenticator {
	if secret == "" {
		secret = "dev-change-me"
	}
	if sessionTTL <= 0 {
		sessionTTL = 8 * time.Hour
	}

	auth := &Authenticator{
		accounts: newAccountDirectory(store),
		sessions: sessionSigner{key: []byte(secret), ttl: sessionTTL},
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost); err == nil {
			auth.pinHash = hash
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	auth.accounts.refresh(ctx)
	return auth
}

// Login refreshes the directory before matching so accounts created or
// removed through the API apply without a restart.
func (a *Authenticator) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, domain.Actor, error) {
	a.accounts.refresh(ctx)

	entry, ok := a.accounts.lookup(req.Username)
	if !ok || !entry.matches(req.Password) {
		return domain.LoginResponse{}, domain.Actor{}, errInvalidCredentials
	}
	if !entry.active {
		return domain.LoginResponse{}, domain.Actor{}, errAccountInactive
	}

	actor := domain.Actor{UserID: entry.id, Username: entry.username, Role: entry.role}
	token, expiresAt, err := a.sessions.issue(actor, time.Now().UTC())
	if err != nil {
		return domain.LoginResponse{}, domain.Actor{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        actor.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, actor, nil
}

// ParseToken resolves a bearer token into the actor it was issued to.
func (a *Authenticator) ParseToken(token string) (domain.Actor, error) {
	return a.sessions.verify(token)
}

// ValidateManagerPIN reports whether pin matches the configured override PIN.
func (a *Authenticator) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || len(a.pinHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)) == nil
}
