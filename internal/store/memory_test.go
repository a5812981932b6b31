package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/meshvault/meshvault/internal/fault"
)

func TestMemorySetGetRoundTrip(t *testing.T) {
	for _, backend := range []string{"sqlite", "gorm"} {
		t.Run(backend, func(t *testing.T) {
			s := newTestStore(t, backend)
			ctx := context.Background()

			_, err := s.SetMemory(ctx, SetMemoryInput{
				AgentID: "agent-a",
				Key:     "prefs",
				Value:   map[string]interface{}{"lang": "go", "depth": float64(2)},
			})
			if err != nil {
				t.Fatalf("SetMemory: %v", err)
			}

			got, err := s.GetMemory(ctx, "agent-a", nil, "prefs")
			if err != nil {
				t.Fatalf("GetMemory: %v", err)
			}
			value, ok := got.Value.(map[string]interface{})
			if !ok {
				t.Fatalf("value decoded as %T", got.Value)
			}
			if value["lang"] != "go" || value["depth"] != float64(2) {
				t.Errorf("value mangled: %v", value)
			}
		})
	}
}

func TestMemoryUpsertReplaces(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	for _, v := range []string{"first", "second"} {
		if _, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-a", Key: "k", Value: v}); err != nil {
			t.Fatalf("SetMemory(%s): %v", v, err)
		}
	}
	got, err := s.GetMemory(ctx, "agent-a", nil, "k")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Value != "second" {
		t.Errorf("value = %v, want second", got.Value)
	}

	page, err := s.ListMemory(ctx, MemoryQuery{AgentID: "agent-a"})
	if err != nil {
		t.Fatalf("ListMemory: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Errorf("upsert created %d entries", len(page.Entries))
	}
}

func TestMemoryScopesAreDistinct(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()
	sessionID := seedSession(t, s)

	if _, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-a", Key: "k", Value: "global"}); err != nil {
		t.Fatalf("SetMemory global: %v", err)
	}
	if _, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-a", SessionID: &sessionID, Key: "k", Value: "scoped"}); err != nil {
		t.Fatalf("SetMemory scoped: %v", err)
	}

	global, err := s.GetMemory(ctx, "agent-a", nil, "k")
	if err != nil {
		t.Fatalf("GetMemory global: %v", err)
	}
	scoped, err := s.GetMemory(ctx, "agent-a", &sessionID, "k")
	if err != nil {
		t.Fatalf("GetMemory scoped: %v", err)
	}
	if global.Value != "global" || scoped.Value != "scoped" {
		t.Errorf("scopes collided: global=%v scoped=%v", global.Value, scoped.Value)
	}

	// Agents do not share keys.
	if _, err := s.GetMemory(ctx, "agent-b", nil, "k"); fault.CodeOf(err) != fault.CodeMemoryNotFound {
		t.Errorf("agent-b read agent-a's memory: %v", err)
	}
}

func TestMemoryScopedSessionMustExist(t *testing.T) {
	s := newTestStore(t, "sqlite")
	bogus := "session_0000000000000000"
	_, err := s.SetMemory(context.Background(), SetMemoryInput{
		AgentID: "agent-a", SessionID: &bogus, Key: "k", Value: "v",
	})
	if fault.CodeOf(err) != fault.CodeSessionNotFound {
		t.Errorf("code = %q, want SESSION_NOT_FOUND", fault.CodeOf(err))
	}
}

func TestMemoryExpiryIsInert(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	if _, err := s.SetMemory(ctx, SetMemoryInput{
		AgentID: "agent-a", Key: "stale", Value: "v", ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}

	if _, err := s.GetMemory(ctx, "agent-a", nil, "stale"); fault.CodeOf(err) != fault.CodeMemoryNotFound {
		t.Errorf("expired entry readable: %v", err)
	}
	page, err := s.ListMemory(ctx, MemoryQuery{AgentID: "agent-a"})
	if err != nil {
		t.Fatalf("ListMemory: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("expired entry listed: %v", page.Entries)
	}

	purged, err := s.PurgeExpiredMemory(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("PurgeExpiredMemory: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

func TestMemoryEntryLimit(t *testing.T) {
	s := newTestStore(t, "sqlite") // limit is 5 in the test fixture
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.SetMemory(ctx, SetMemoryInput{
			AgentID: "agent-a", Key: fmt.Sprintf("k%d", i), Value: i,
		}); err != nil {
			t.Fatalf("SetMemory(k%d): %v", i, err)
		}
	}

	_, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-a", Key: "k5", Value: 5})
	if fault.CodeOf(err) != fault.CodeMemoryLimit {
		t.Errorf("code = %q, want MEMORY_LIMIT_EXCEEDED", fault.CodeOf(err))
	}

	// Overwrites are not new entries and always succeed.
	if _, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-a", Key: "k0", Value: "updated"}); err != nil {
		t.Errorf("overwrite at limit: %v", err)
	}

	// Other agents have their own budget.
	if _, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-b", Key: "k0", Value: "v"}); err != nil {
		t.Errorf("limit leaked across agents: %v", err)
	}
}

func TestMemoryListPrefixAndPaging(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	for _, key := range []string{"task/1", "task/2", "task/3", "note/1"} {
		if _, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-a", Key: key, Value: "v"}); err != nil {
			t.Fatalf("SetMemory(%s): %v", key, err)
		}
	}

	page, err := s.ListMemory(ctx, MemoryQuery{AgentID: "agent-a", KeyPrefix: "task/", Limit: 2})
	if err != nil {
		t.Fatalf("ListMemory: %v", err)
	}
	if len(page.Entries) != 2 || !page.HasMore {
		t.Fatalf("page: %d entries, HasMore=%v", len(page.Entries), page.HasMore)
	}
	if page.Entries[0].Key != "task/1" || page.Entries[1].Key != "task/2" {
		t.Errorf("keys out of order: %s, %s", page.Entries[0].Key, page.Entries[1].Key)
	}

	// LIKE metacharacters in the prefix must not act as wildcards.
	page, err = s.ListMemory(ctx, MemoryQuery{AgentID: "agent-a", KeyPrefix: "task_"})
	if err != nil {
		t.Fatalf("ListMemory: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("underscore matched as wildcard: %v", page.Entries)
	}
}

func TestMemoryDelete(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	if _, err := s.SetMemory(ctx, SetMemoryInput{AgentID: "agent-a", Key: "k", Value: "v"}); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}
	if err := s.DeleteMemory(ctx, "agent-a", nil, "k"); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if err := s.DeleteMemory(ctx, "agent-a", nil, "k"); fault.CodeOf(err) != fault.CodeMemoryNotFound {
		t.Errorf("second delete: code = %q, want MEMORY_NOT_FOUND", fault.CodeOf(err))
	}
}
