package memory

import (
	"testing"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()

	session := app.NewSession(domain.SessionRecord{ID: "s1", JoinCode: "ABCD23"}, nil)
	store.Put(session)

	if _, ok := store.Get("s1"); !ok {
		t.Fatalf("expected session present by id")
	}
	if found, ok := store.ByJoinCode("ABCD23"); !ok || found.ID() != "s1" {
		t.Fatalf("expected session present by join code")
	}
	if got := len(store.List()); got != 1 {
		t.Fatalf("expected 1 listed session, got %d", got)
	}

	store.Delete("s1")
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("expected session removed")
	}
	if _, ok := store.ByJoinCode("ABCD23"); ok {
		t.Fatalf("expected join code index cleared")
	}
}
