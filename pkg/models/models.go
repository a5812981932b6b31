// Package models defines the domain entities persisted by the MeshVault
// shared context store: sessions, messages, agent memory, audit events,
// and token records.
package models

import "time"

// Visibility controls which identities may read a message.
type Visibility string

const (
	// VisibilityPublic messages are readable by every identity that can
	// read the session.
	VisibilityPublic Visibility = "public"

	// VisibilityPrivate messages are readable only by their sender.
	VisibilityPrivate Visibility = "private"

	// VisibilityAgentOnly messages are currently readable only by their
	// exact sender. Whether this should widen to "any identity of the same
	// agent type" is an open product question; until that is settled the
	// behavior is identical to private.
	VisibilityAgentOnly Visibility = "agent_only"
)

// Valid reports whether v is one of the three recognized visibility scopes.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityAgentOnly:
		return true
	}
	return false
}

// Metadata is an optional string-keyed mapping attached to sessions,
// messages, memory entries, and audit events. Keys are single-level;
// values may be arbitrary JSON (nested objects, arrays, scalars).
type Metadata map[string]interface{}

// Session is a named collaboration context holding an ordered sequence
// of messages.
type Session struct {
	ID        string    `json:"id"`
	Purpose   string    `json:"purpose"`
	CreatedBy string    `json:"created_by"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Active    bool      `json:"active"`
}

// Message is one unit of content within a session, tagged with a
// visibility scope. IDs are assigned by the store and increase
// monotonically.
type Message struct {
	ID         int64      `json:"id"`
	SessionID  string     `json:"session_id"`
	Sender     string     `json:"sender"`
	SenderType string     `json:"sender_type"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
	Metadata   Metadata   `json:"metadata,omitempty"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// MemoryEntry is a key/value record owned by one agent, scoped either
// globally (SessionID == nil) or to a single session. Expired entries are
// invisible to reads until the janitor purges them.
type MemoryEntry struct {
	AgentID   string      `json:"agent_id"`
	SessionID *string     `json:"session_id,omitempty"`
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Metadata  Metadata    `json:"metadata,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (m *MemoryEntry) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// AuditEvent is one append-only record of a security-relevant action.
// Audit events are never updated; they are deleted only by retention policy.
type AuditEvent struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	AgentID   string    `json:"agent_id"`
	SessionID *string   `json:"session_id,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenRecord is the persisted, encrypted form of an issued capability
// token ("token at rest"). Its presence allows revocation checks and audit;
// signature verification alone never needs it.
type TokenRecord struct {
	TokenID   string    `json:"token_id"`
	AgentID   string    `json:"agent_id"`
	Payload   []byte    `json:"-"` // AES-GCM ciphertext of the signed token
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SchemaRevision is one row of the append-only schema version history.
type SchemaRevision struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}
