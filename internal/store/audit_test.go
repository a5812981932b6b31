package store

import (
	"context"
	"testing"
	"time"

	"github.com/meshvault/meshvault/pkg/models"
)

func TestAuditAppendAndList(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()
	sessionID := seedSession(t, s)

	events := []models.AuditEvent{
		{EventType: "session_created", AgentID: "agent-a", SessionID: &sessionID},
		{EventType: "message_added", AgentID: "agent-a", SessionID: &sessionID},
		{EventType: "auth_failed", AgentID: "agent-b", Metadata: models.Metadata{"reason": "expired"}},
	}
	for _, ev := range events {
		got, err := s.AppendAudit(ctx, ev)
		if err != nil {
			t.Fatalf("AppendAudit(%s): %v", ev.EventType, err)
		}
		if got.ID == "" || got.Timestamp.IsZero() {
			t.Errorf("event %s missing assigned id/timestamp", ev.EventType)
		}
	}

	page, err := s.ListAudit(ctx, AuditQuery{AgentID: "agent-a"})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(page.Events) != 2 {
		t.Errorf("agent-a events = %d, want 2", len(page.Events))
	}

	page, err = s.ListAudit(ctx, AuditQuery{EventType: "auth_failed"})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Metadata["reason"] != "expired" {
		t.Errorf("auth_failed listing wrong: %+v", page.Events)
	}
}

func TestAuditRejectsEmptyEventType(t *testing.T) {
	s := newTestStore(t, "sqlite")
	if _, err := s.AppendAudit(context.Background(), models.AuditEvent{AgentID: "a"}); err == nil {
		t.Error("empty event type accepted")
	}
}

func TestAuditRetentionPurge(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	if _, err := s.AppendAudit(ctx, models.AuditEvent{EventType: "x", AgentID: "a"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	n, err := s.PurgeAuditBefore(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Errorf("purged %d fresh events (err %v)", n, err)
	}
	n, err = s.PurgeAuditBefore(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("purged %d events (err %v), want 1", n, err)
	}
}
