package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewCarriesPrefixAndUUID(t *testing.T) {
	id := New("audit")
	if !strings.HasPrefix(id, "audit-") {
		t.Fatalf("expected audit- prefix, got %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "audit-")); err != nil {
		t.Fatalf("expected uuid suffix, got %s: %v", id, err)
	}
	if New("audit") == id {
		t.Fatalf("expected unique ids")
	}
}
