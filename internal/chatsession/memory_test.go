package chatsession

import (
	"context"
	"testing"
	"time"
)

func TestGetOrCreateReusesActiveSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s1, err := store.GetOrCreate(ctx, "gateway", "chan-1", "plat-1", "default", "agent-1", ResetConfig{Policy: ResetNever})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s2, err := store.GetOrCreate(ctx, "gateway", "chan-1", "plat-1", "default", "agent-1", ResetConfig{Policy: ResetNever})
	if err != nil {
		t.Fatalf("GetOrCreate (2nd): %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("expected same session id, got %s and %s", s1.ID, s2.ID)
	}
}

func TestGetOrCreateIdleResetCreatesFreshSession(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.Clock = func() time.Time { return now }
	ctx := context.Background()

	cfg := ResetConfig{Policy: ResetIdle, IdleTimeoutMinutes: 5}
	s1, err := store.GetOrCreate(ctx, "gateway", "chan-1", "plat-1", "default", "agent-1", cfg)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.AppendMessage(ctx, s1.ID, &Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	now = now.Add(10 * time.Minute)
	s2, err := store.GetOrCreate(ctx, "gateway", "chan-1", "plat-1", "default", "agent-1", cfg)
	if err != nil {
		t.Fatalf("GetOrCreate (after idle): %v", err)
	}
	if s2.ID == s1.ID {
		t.Fatal("expected a fresh session id after the idle timeout elapsed")
	}

	history, err := store.GetHistory(ctx, s2.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected the reset session to start with no history, got %d messages", len(history))
	}
}

func TestAppendAndGetHistoryClonesMessages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "gateway", "chan-1", "", "default", "agent-1", ResetConfig{Policy: ResetNever})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	msg := &Message{Role: "user", Content: "hello"}
	if err := store.AppendMessage(ctx, sess.ID, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	msg.Content = "mutated after append"

	history, err := store.GetHistory(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].Content != "hello" {
		t.Fatalf("expected stored message to be unaffected by later caller mutation, got %q", history[0].Content)
	}
}

func TestAppendMessageUnknownSessionFails(t *testing.T) {
	store := NewMemoryStore()
	if err := store.AppendMessage(context.Background(), "missing", &Message{Role: "user", Content: "x"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessageTrimsToMaxMessages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.CreateGatewaySession(ctx, "gateway", "chan-1", "default")
	if err != nil {
		t.Fatalf("CreateGatewaySession: %v", err)
	}

	for i := 0; i < maxMessagesPerSession+10; i++ {
		if err := store.AppendMessage(ctx, sess.ID, &Message{Role: "user", Content: "x"}); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	history, err := store.GetHistory(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != maxMessagesPerSession {
		t.Fatalf("expected history trimmed to %d, got %d", maxMessagesPerSession, len(history))
	}
}

func TestDeactivateClearsMessages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.CreateGatewaySession(ctx, "gateway", "chan-1", "default")
	if err != nil {
		t.Fatalf("CreateGatewaySession: %v", err)
	}
	if err := store.AppendMessage(ctx, sess.ID, &Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.Deactivate(ctx, sess.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	history, err := store.GetHistory(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected message log cleared on deactivate, got %d messages", len(history))
	}

	if err := store.Deactivate(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestGetMessagesForCompactionAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.CreateGatewaySession(ctx, "gateway", "chan-1", "default")
	if err != nil {
		t.Fatalf("CreateGatewaySession: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := store.AppendMessage(ctx, sess.ID, &Message{Role: "user", Content: "x"}); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	toCompact, err := store.GetMessagesForCompaction(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("GetMessagesForCompaction: %v", err)
	}
	if len(toCompact) != 3 {
		t.Fatalf("expected 3 messages eligible for compaction, got %d", len(toCompact))
	}

	if err := store.DeleteCompactedMessages(ctx, sess.ID, 2); err != nil {
		t.Fatalf("DeleteCompactedMessages: %v", err)
	}
	remaining, err := store.GetHistory(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 messages remaining after compaction, got %d", len(remaining))
	}

	if err := store.SetSessionCompaction(ctx, sess.ID, "memory-1"); err != nil {
		t.Fatalf("SetSessionCompaction: %v", err)
	}
}
