// ABOUTME: Tests for the conversation memory store
// ABOUTME: Covers thread isolation, ordering, and mailbox CRUD

package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "thread-1", RoleUser, "hello"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, "thread-1", RoleAssistant, "hi there"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := s.History(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != RoleUser || history[0].Content != "hello" {
		t.Errorf("unexpected first message: %+v", history[0])
	}
	if history[1].Role != RoleAssistant || history[1].Content != "hi there" {
		t.Errorf("unexpected second message: %+v", history[1])
	}
}

func TestHistoryThreadIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "thread-a", RoleUser, "for a"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, "thread-b", RoleUser, "for b"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := s.History(ctx, "thread-a", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].Content != "for a" {
		t.Errorf("thread-a got message %q", history[0].Content)
	}
}

func TestHistoryPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		if err := s.Append(ctx, "thread-1", RoleUser, c); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	history, err := s.History(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(history))
	}
	for i, c := range contents {
		if history[i].Content != c {
			t.Errorf("position %d: expected %q, got %q", i, c, history[i].Content)
		}
	}
}

func TestHistoryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, "thread-1", RoleUser, "msg"); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	history, err := s.History(ctx, "thread-1", 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("expected 3 messages, got %d", len(history))
	}
}

func TestHistoryEmptyThread(t *testing.T) {
	s := newTestStore(t)

	history, err := s.History(context.Background(), "no-such-thread", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d messages", len(history))
	}
}

func TestMemoryStore(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Append(ctx, "t", RoleUser, "in memory"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	history, err := s.History(ctx, "t", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected 1 message, got %d", len(history))
	}
}

func TestMailSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &Mail{Sender: "alice", Recipient: "bob", Subject: "standup", Body: "moved to 10am"}
	if err := s.SaveMail(ctx, m); err != nil {
		t.Fatalf("SaveMail failed: %v", err)
	}
	if m.ID == "" {
		t.Fatal("SaveMail did not assign an id")
	}

	got, err := s.GetMail(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMail failed: %v", err)
	}
	if got.Subject != "standup" || got.Read {
		t.Errorf("unexpected mail: %+v", got)
	}
}

func TestMailSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*Mail{
		{Sender: "a", Recipient: "b", Subject: "lunch plans", Body: "tacos?"},
		{Sender: "a", Recipient: "b", Subject: "deploy", Body: "lunch window works"},
		{Sender: "a", Recipient: "b", Subject: "unrelated", Body: "nothing here"},
	} {
		if err := s.SaveMail(ctx, m); err != nil {
			t.Fatalf("SaveMail failed: %v", err)
		}
	}

	results, err := s.SearchMail(ctx, "lunch", false, 0)
	if err != nil {
		t.Fatalf("SearchMail failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestMailMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &Mail{Sender: "a", Recipient: "b", Subject: "s", Body: "b"}
	if err := s.SaveMail(ctx, m); err != nil {
		t.Fatalf("SaveMail failed: %v", err)
	}
	if err := s.MarkMailRead(ctx, m.ID); err != nil {
		t.Fatalf("MarkMailRead failed: %v", err)
	}

	got, err := s.GetMail(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMail failed: %v", err)
	}
	if !got.Read {
		t.Error("mail not marked read")
	}

	results, err := s.SearchMail(ctx, "s", true, 0)
	if err != nil {
		t.Fatalf("SearchMail failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no unread results, got %d", len(results))
	}
}

func TestMailNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetMail(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkMailRead(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
