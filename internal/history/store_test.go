package history

import (
	"context"
	"testing"
)

func TestInMemoryStoreSessionLifecycle(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "frontend-1", "voice")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty session id")
	}

	rec := store.Session(id)
	if rec == nil {
		t.Fatal("expected session record")
	}
	if rec.FrontendID != "frontend-1" || rec.Modality != "voice" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.EndedAt != nil {
		t.Fatal("expected open session")
	}

	if err := store.EndSession(ctx, id); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if store.Session(id).EndedAt == nil {
		t.Fatal("expected ended_at to be set")
	}
}

func TestInMemoryStoreLogMessageOrdering(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "frontend-1", "text")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for _, content := range []string{"first", "second", "third"} {
		err := store.LogMessage(ctx, MessageRecord{
			SessionID: id,
			Role:      "user",
			Type:      "message",
			Content:   content,
			Channel:   "text",
		})
		if err != nil {
			t.Fatalf("LogMessage(%q) failed: %v", content, err)
		}
	}

	msgs := store.Messages(id)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Fatalf("message %d = %q, want %q", i, msgs[i].Content, want)
		}
		if msgs[i].ID == "" || msgs[i].CreatedAt.IsZero() {
			t.Fatalf("message %d missing assigned id or timestamp", i)
		}
	}
}

func TestInMemoryStoreRejectsUnknownSession(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	err := store.LogMessage(ctx, MessageRecord{SessionID: "nope", Role: "user", Type: "message"})
	if err == nil {
		t.Fatal("expected error logging to unknown session")
	}
	if err := store.EndSession(ctx, "nope"); err == nil {
		t.Fatal("expected error ending unknown session")
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	store, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}
}
