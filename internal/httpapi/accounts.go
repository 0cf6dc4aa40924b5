package httpapi

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"flowerbelle/backend/internal/domain"
)

// AccountStore is the part of the repository sign-in depends on.
type AccountStore interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type accountEntry struct {
	id       int64
	username string
	hash     []byte
	role     string
	active   bool
}

func (e accountEntry) matches(password string) bool {
	if strings.TrimSpace(password) == "" || len(e.hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(e.hash, []byte(password)) == nil
}

// accountDirectory is a snapshot of shop accounts keyed by lowercase username.
type accountDirectory struct {
	store AccountStore

	mu      sync.RWMutex
	entries map[string]accountEntry
}

func newAccountDirectory(store AccountStore) *accountDirectory {
	return &accountDirectory{store: store, entries: map[string]accountEntry{}}
}

func (d *accountDirectory) lookup(username string) (accountEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[normalizeUsername(username)]
	return entry, ok
}

// refresh swaps in the store's current accounts. Rows still holding a
// plain-text password are rehashed and written back. On a read error the
// previous snapshot is kept.
func (d *accountDirectory) refresh(ctx context.Context) {
	if d.store == nil {
		return
	}
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return
	}

	next := make(map[string]accountEntry, len(users))
	for _, user := range users {
		name := normalizeUsername(user.Username)
		if name == "" {
			continue
		}
		next[name] = accountEntry{
			id:       user.ID,
			username: name,
			hash:     d.ensureHashed(ctx, name, user.Password),
			role:     user.Role,
			active:   user.Active,
		}
	}

	d.mu.Lock()
	d.entries = next
	d.mu.Unlock()
}

func (d *accountDirectory) ensureHashed(ctx context.Context, username, stored string) []byte {
	if stored == "" {
		return nil
	}
	if _, err := bcrypt.Cost([]byte(stored)); err == nil {
		return []byte(stored)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(stored), bcrypt.DefaultCost)
	if err != nil {
		return nil
	}
	_ = d.store.UpdateUserPassword(ctx, username, string(hash))
	return hash
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
