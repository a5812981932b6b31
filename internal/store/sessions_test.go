package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/pkg/models"
)

var sessionIDPattern = regexp.MustCompile(`^session_[0-9a-f]{16}$`)

func TestNewSessionIDShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if !sessionIDPattern.MatchString(id) {
			t.Fatalf("session id %q does not match %s", id, sessionIDPattern)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "  triage pipeline  ",
		models.Metadata{"team": "облако", "depth": float64(3)}, "agent-a")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.Purpose != "triage pipeline" {
		t.Errorf("purpose not trimmed: %q", created.Purpose)
	}
	if !created.Active {
		t.Error("new session should be active")
	}

	got, err := s.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CreatedBy != "agent-a" {
		t.Errorf("created_by = %q, want agent-a", got.CreatedBy)
	}
	if got.Metadata["team"] != "облако" {
		t.Errorf("non-ASCII metadata mangled: %v", got.Metadata["team"])
	}
	if got.Metadata["depth"] != float64(3) {
		t.Errorf("numeric metadata mangled: %v", got.Metadata["depth"])
	}
}

func TestCreateSessionValidation(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "   ", nil, "agent-a"); fault.CodeOf(err) != fault.CodeInvalidInput {
		t.Errorf("blank purpose: code = %q, want INVALID_INPUT", fault.CodeOf(err))
	}
	if _, err := s.CreateSession(ctx, "ok", nil, ""); fault.CodeOf(err) != fault.CodeInvalidInput {
		t.Errorf("missing creator: code = %q, want INVALID_INPUT", fault.CodeOf(err))
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t, "sqlite")
	_, err := s.GetSession(context.Background(), "session_0000000000000000")
	if fault.CodeOf(err) != fault.CodeSessionNotFound {
		t.Errorf("code = %q, want SESSION_NOT_FOUND", fault.CodeOf(err))
	}
	if fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("kind = %v, want KindNotFound", fault.KindOf(err))
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "cascade test", nil, "agent-a")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.AddMessage(ctx, AddMessageInput{
		SessionID:  session.ID,
		Sender:     "agent-a",
		SenderType: "worker",
		Content:    "hello",
		Visibility: models.VisibilityPublic,
	}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.SetMemory(ctx, SetMemoryInput{
		AgentID:   "agent-a",
		SessionID: &session.ID,
		Key:       "scratch",
		Value:     "x",
	}); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}

	if err := s.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if n, err := s.CountMessages(ctx, session.ID); err != nil || n != 0 {
		t.Errorf("messages after cascade = %d (err %v), want 0", n, err)
	}
	if _, err := s.GetMemory(ctx, "agent-a", &session.ID, "scratch"); fault.CodeOf(err) != fault.CodeMemoryNotFound {
		t.Errorf("session-scoped memory survived cascade: %v", err)
	}

	// Deleting again reports not found, not success.
	if err := s.DeleteSession(ctx, session.ID); fault.CodeOf(err) != fault.CodeSessionNotFound {
		t.Errorf("second delete: code = %q, want SESSION_NOT_FOUND", fault.CodeOf(err))
	}
}

func TestUpdateSessionMetadata(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "meta test", models.Metadata{"v": float64(1)}, "agent-a")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.UpdateSessionMetadata(ctx, session.ID, models.Metadata{"v": float64(2)}); err != nil {
		t.Fatalf("UpdateSessionMetadata: %v", err)
	}
	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Metadata["v"] != float64(2) {
		t.Errorf("metadata not replaced: %v", got.Metadata)
	}

	if err := s.UpdateSessionMetadata(ctx, "session_ffffffffffffffff", nil); fault.CodeOf(err) != fault.CodeSessionNotFound {
		t.Errorf("unknown session: code = %q, want SESSION_NOT_FOUND", fault.CodeOf(err))
	}
}

func TestPurgeInactiveSessions(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "fresh", nil, "agent-a"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Nothing is older than a cutoff in the past.
	n, err := s.PurgeInactiveSessions(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeInactiveSessions: %v", err)
	}
	if n != 0 {
		t.Errorf("purged %d fresh sessions", n)
	}

	// A cutoff in the future sweeps everything.
	n, err = s.PurgeInactiveSessions(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeInactiveSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d sessions, want 1", n)
	}
}
