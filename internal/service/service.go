package service

import (
	"context"
	"time"

	"github.com/meshvault/meshvault/internal/auth"
	"github.com/meshvault/meshvault/internal/store"
	"github.com/meshvault/meshvault/pkg/contracts"
	"github.com/meshvault/meshvault/pkg/models"
)

// Service binds the store and the identity layer into the operation
// surface agents call. All inputs arrive pre-parsed; transport concerns
// live elsewhere.
type Service struct {
	store *store.Store
	auth  *auth.Authority
}

// New wires a Service.
func New(st *store.Store, authority *auth.Authority) *Service {
	return &Service{store: st, auth: authority}
}

// Authority exposes the identity layer for transports that gate early.
func (s *Service) Authority() *auth.Authority { return s.auth }

// ── Identity operations ─────────────────────────────────────

// AuthResult is the envelope for token issuance and refresh.
type AuthResult struct {
	Status
	Token    string              `json:"token,omitempty"`
	Identity *contracts.Identity `json:"identity,omitempty"`
}

// AuthenticateAgent mints a capability token for an agent. Permissions
// are bounded by the agent type; unknown types degrade to read-only.
func (s *Service) AuthenticateAgent(ctx context.Context, agentID, agentType string, requested []contracts.Permission) AuthResult {
	token, id, err := s.auth.IssueToken(ctx, agentID, agentType, requested)
	if err != nil {
		return AuthResult{Status: failFrom(err)}
	}
	return AuthResult{Status: ok(), Token: token, Identity: id}
}

// RefreshToken exchanges a valid token for a fresh one with the same
// identity and grants.
func (s *Service) RefreshToken(ctx context.Context, token string) AuthResult {
	fresh, id, err := s.auth.RefreshToken(ctx, token)
	if err != nil {
		return AuthResult{Status: failFrom(err)}
	}
	return AuthResult{Status: ok(), Token: fresh, Identity: id}
}

// identify authenticates the token and gates on one permission, auditing
// denials. Shared by every data operation.
func (s *Service) identify(ctx context.Context, token string, p contracts.Permission) (*contracts.Identity, error) {
	id, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := auth.RequirePermission(id, p); err != nil {
		s.auth.Audit(ctx, models.AuditEvent{
			EventType: "permission_denied",
			AgentID:   id.AgentID,
			Metadata:  models.Metadata{"required": string(p)},
		})
		return nil, err
	}
	return id, nil
}

// ── Session operations ──────────────────────────────────────

// SessionResult is the envelope for single-session operations.
type SessionResult struct {
	Status
	Session *models.Session `json:"session,omitempty"`
	// Messages is populated by GetSession with the visibility-filtered
	// recent messages of the session.
	Messages []models.Message `json:"messages,omitempty"`
}

// CreateSession opens a collaboration session owned by the caller.
func (s *Service) CreateSession(ctx context.Context, token, purpose string, metadata interface{}) SessionResult {
	id, err := s.identify(ctx, token, contracts.PermissionWrite)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	md, err := store.CoerceMetadata(metadata)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	session, err := s.store.CreateSession(ctx, purpose, md, id.AgentID)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	s.auth.Audit(ctx, models.AuditEvent{
		EventType: "session_created",
		AgentID:   id.AgentID,
		SessionID: &session.ID,
		Metadata:  models.Metadata{"purpose": session.Purpose},
	})
	return SessionResult{Status: ok(), Session: session}
}

// GetSession returns a session plus the most recent messages the caller
// may see.
func (s *Service) GetSession(ctx context.Context, token, sessionID string) SessionResult {
	id, err := s.identify(ctx, token, contracts.PermissionRead)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	page, err := s.store.GetMessages(ctx, store.MessageQuery{
		SessionID: sessionID,
		Requester: id.AgentID,
	})
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	return SessionResult{Status: ok(), Session: session, Messages: page.Messages}
}

// UpdateSessionMetadata replaces a session's metadata document.
func (s *Service) UpdateSessionMetadata(ctx context.Context, token, sessionID string, metadata interface{}) SessionResult {
	id, err := s.identify(ctx, token, contracts.PermissionWrite)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	md, err := store.CoerceMetadata(metadata)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	if err := s.store.UpdateSessionMetadata(ctx, sessionID, md); err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionResult{Status: failFrom(err)}
	}
	s.auth.Audit(ctx, models.AuditEvent{
		EventType: "session_updated",
		AgentID:   id.AgentID,
		SessionID: &sessionID,
	})
	return SessionResult{Status: ok(), Session: session}
}

// DeleteSession removes a session and everything cascading from it.
// Destructive, so it demands the admin permission.
func (s *Service) DeleteSession(ctx context.Context, token, sessionID string) Status {
	id, err := s.identify(ctx, token, contracts.PermissionAdmin)
	if err != nil {
		return failFrom(err)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return failFrom(err)
	}
	s.auth.Audit(ctx, models.AuditEvent{
		EventType: "session_deleted",
		AgentID:   id.AgentID,
		SessionID: &sessionID,
	})
	return ok()
}

// ── Message operations ──────────────────────────────────────

// MessageResult is the envelope for a single appended message.
type MessageResult struct {
	Status
	Message *models.Message `json:"message,omitempty"`
}

// MessagesResult is the envelope for a message listing.
type MessagesResult struct {
	Status
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// AddMessageParams is the caller-facing shape of a message append.
type AddMessageParams struct {
	SessionID  string
	Content    string
	Visibility models.Visibility
	Metadata   interface{}
	ParentID   *int64
}

// AddMessage appends a message as the authenticated agent. The sender is
// always the token identity; callers cannot speak as someone else.
func (s *Service) AddMessage(ctx context.Context, token string, p AddMessageParams) MessageResult {
	id, err := s.identify(ctx, token, contracts.PermissionWrite)
	if err != nil {
		return MessageResult{Status: failFrom(err)}
	}
	md, err := store.CoerceMetadata(p.Metadata)
	if err != nil {
		return MessageResult{Status: failFrom(err)}
	}
	if p.Visibility == "" {
		p.Visibility = models.VisibilityPublic
	}
	msg, err := s.store.AddMessage(ctx, store.AddMessageInput{
		SessionID:  p.SessionID,
		Sender:     id.AgentID,
		SenderType: id.AgentType,
		Content:    p.Content,
		Visibility: p.Visibility,
		Metadata:   md,
		ParentID:   p.ParentID,
	})
	if err != nil {
		return MessageResult{Status: failFrom(err)}
	}
	s.auth.Audit(ctx, models.AuditEvent{
		EventType: "message_added",
		AgentID:   id.AgentID,
		SessionID: &p.SessionID,
		Metadata:  models.Metadata{"message_id": msg.ID, "visibility": string(msg.Visibility)},
	})
	return MessageResult{Status: ok(), Message: msg}
}

// GetMessages lists the messages of a session visible to the caller,
// optionally narrowed to one visibility class.
func (s *Service) GetMessages(ctx context.Context, token, sessionID string, visibility *models.Visibility, limit, offset int) MessagesResult {
	id, err := s.identify(ctx, token, contracts.PermissionRead)
	if err != nil {
		return MessagesResult{Status: failFrom(err)}
	}
	page, err := s.store.GetMessages(ctx, store.MessageQuery{
		SessionID:  sessionID,
		Requester:  id.AgentID,
		Visibility: visibility,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return MessagesResult{Status: failFrom(err)}
	}
	return MessagesResult{Status: ok(), Messages: page.Messages, HasMore: page.HasMore}
}

// ── Memory operations ───────────────────────────────────────

// MemoryResult is the envelope for single-entry memory operations.
type MemoryResult struct {
	Status
	Entry *models.MemoryEntry `json:"entry,omitempty"`
}

// MemoryListResult is the envelope for memory listings.
type MemoryListResult struct {
	Status
	Entries []models.MemoryEntry `json:"entries"`
	HasMore bool                 `json:"has_more"`
}

// SetMemoryParams is the caller-facing shape of a memory upsert.
type SetMemoryParams struct {
	SessionID *string
	Key       string
	Value     interface{}
	Metadata  interface{}
	TTL       *int64 // seconds; nil means no expiry
}

// SetMemory upserts a memory entry owned by the calling agent.
func (s *Service) SetMemory(ctx context.Context, token string, p SetMemoryParams) MemoryResult {
	id, err := s.identify(ctx, token, contracts.PermissionWrite)
	if err != nil {
		return MemoryResult{Status: failFrom(err)}
	}
	md, err := store.CoerceMetadata(p.Metadata)
	if err != nil {
		return MemoryResult{Status: failFrom(err)}
	}
	in := store.SetMemoryInput{
		AgentID:   id.AgentID,
		SessionID: p.SessionID,
		Key:       p.Key,
		Value:     p.Value,
		Metadata:  md,
	}
	if p.TTL != nil {
		exp := time.Now().UTC().Add(time.Duration(*p.TTL) * time.Second)
		in.ExpiresAt = &exp
	}
	entry, err := s.store.SetMemory(ctx, in)
	if err != nil {
		return MemoryResult{Status: failFrom(err)}
	}
	s.auth.Audit(ctx, models.AuditEvent{
		EventType: "memory_set",
		AgentID:   id.AgentID,
		SessionID: p.SessionID,
		Metadata:  models.Metadata{"key": p.Key},
	})
	return MemoryResult{Status: ok(), Entry: entry}
}

// GetMemory fetches one of the caller's live memory entries.
func (s *Service) GetMemory(ctx context.Context, token string, sessionID *string, key string) MemoryResult {
	id, err := s.identify(ctx, token, contracts.PermissionRead)
	if err != nil {
		return MemoryResult{Status: failFrom(err)}
	}
	entry, err := s.store.GetMemory(ctx, id.AgentID, sessionID, key)
	if err != nil {
		return MemoryResult{Status: failFrom(err)}
	}
	return MemoryResult{Status: ok(), Entry: entry}
}

// ListMemory pages through the caller's memory in one scope.
func (s *Service) ListMemory(ctx context.Context, token string, sessionID *string, keyPrefix string, limit, offset int) MemoryListResult {
	id, err := s.identify(ctx, token, contracts.PermissionRead)
	if err != nil {
		return MemoryListResult{Status: failFrom(err)}
	}
	page, err := s.store.ListMemory(ctx, store.MemoryQuery{
		AgentID:   id.AgentID,
		SessionID: sessionID,
		KeyPrefix: keyPrefix,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return MemoryListResult{Status: failFrom(err)}
	}
	return MemoryListResult{Status: ok(), Entries: page.Entries, HasMore: page.HasMore}
}

// DeleteMemory removes one of the caller's memory entries.
func (s *Service) DeleteMemory(ctx context.Context, token string, sessionID *string, key string) Status {
	id, err := s.identify(ctx, token, contracts.PermissionWrite)
	if err != nil {
		return failFrom(err)
	}
	if err := s.store.DeleteMemory(ctx, id.AgentID, sessionID, key); err != nil {
		return failFrom(err)
	}
	s.auth.Audit(ctx, models.AuditEvent{
		EventType: "memory_deleted",
		AgentID:   id.AgentID,
		SessionID: sessionID,
		Metadata:  models.Metadata{"key": key},
	})
	return ok()
}

// ── Audit operations ────────────────────────────────────────

// AuditResult is the envelope for audit listings.
type AuditResult struct {
	Status
	Events  []models.AuditEvent `json:"events"`
	HasMore bool                `json:"has_more"`
}

// ListAudit exposes the audit trail to debug-permission holders.
func (s *Service) ListAudit(ctx context.Context, token string, q store.AuditQuery) AuditResult {
	if _, err := s.identify(ctx, token, contracts.PermissionDebug); err != nil {
		return AuditResult{Status: failFrom(err)}
	}
	page, err := s.store.ListAudit(ctx, q)
	if err != nil {
		return AuditResult{Status: failFrom(err)}
	}
	return AuditResult{Status: ok(), Events: page.Events, HasMore: page.HasMore}
}
