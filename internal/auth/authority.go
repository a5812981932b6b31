package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/internal/store"
	"github.com/meshvault/meshvault/pkg/contracts"
	"github.com/meshvault/meshvault/pkg/models"
)

// Authority is the identity layer: it mints, refreshes and validates
// capability tokens, persists them at rest when a vault key is
// configured, and records security events to the audit trail.
type Authority struct {
	signer *Signer
	vault  *Vault // nil disables token-at-rest storage
	store  *store.Store
}

// NewAuthority wires the signer, optional vault, and backing store.
func NewAuthority(signer *Signer, vault *Vault, st *store.Store) *Authority {
	return &Authority{signer: signer, vault: vault, store: st}
}

// RevocationEnabled reports whether tokens are persisted at rest, which
// is what makes revocation checks possible.
func (a *Authority) RevocationEnabled() bool { return a.vault != nil }

// IssueToken authenticates an agent and mints a capability token whose
// permissions are the type-bounded grant of what the agent requested.
func (a *Authority) IssueToken(ctx context.Context, agentID, agentType string, requested []contracts.Permission) (string, *contracts.Identity, error) {
	if agentID == "" {
		return "", nil, fault.Validation(fault.CodeInvalidInput, "agent_id must not be empty").
			WithContext("field", "agent_id")
	}
	if agentType == "" {
		agentType = "generic"
	}

	perms := Grant(agentType, requested)
	token, id, err := a.signer.Sign(agentID, agentType, perms)
	if err != nil {
		return "", nil, fault.Wrap(fault.KindAuthentication, fault.CodeAuthFailed, err, "mint token")
	}

	if a.vault != nil {
		if err := a.persistToken(ctx, token, id); err != nil {
			return "", nil, err
		}
	}

	a.Audit(ctx, models.AuditEvent{
		EventType: "token_issued",
		AgentID:   agentID,
		Metadata: models.Metadata{
			"agent_type":  agentType,
			"permissions": permissionStrings(perms),
			"token_id":    id.TokenID,
		},
	})
	return token, id, nil
}

// ValidateToken verifies a token and, when token-at-rest storage is on,
// rejects tokens that have been revoked out from under their signature.
func (a *Authority) ValidateToken(ctx context.Context, token string) contracts.TokenValidation {
	result := a.signer.Validate(token)
	if !result.Valid || a.vault == nil {
		return result
	}
	if _, err := a.store.GetToken(ctx, result.Identity.TokenID); err != nil {
		if fault.KindOf(err) == fault.KindAuthentication {
			return contracts.TokenValidation{Valid: false, Reason: contracts.ReasonRevoked}
		}
		// Store trouble must not lock every agent out; the signature
		// already proved authenticity.
		log.Warn().Err(err).Str("token_id", result.Identity.TokenID).
			Msg("Revocation check failed, accepting signed token")
	}
	return result
}

// Authenticate resolves a token into an identity or a structured
// authentication failure, auditing the failure path.
func (a *Authority) Authenticate(ctx context.Context, token string) (*contracts.Identity, error) {
	result := a.ValidateToken(ctx, token)
	if !result.Valid {
		a.Audit(ctx, models.AuditEvent{
			EventType: "auth_failed",
			AgentID:   "unknown",
			Metadata:  models.Metadata{"reason": string(result.Reason)},
		})
		return nil, fault.Authentication("token rejected: %s", result.Reason).
			WithContext("reason", string(result.Reason))
	}
	return result.Identity, nil
}

// RefreshToken exchanges a still-valid token for a fresh one carrying the
// same identity and permissions. The old token is revoked when the vault
// is enabled; otherwise it simply ages out.
func (a *Authority) RefreshToken(ctx context.Context, token string) (string, *contracts.Identity, error) {
	old, err := a.Authenticate(ctx, token)
	if err != nil {
		return "", nil, err
	}

	fresh, id, err := a.signer.Sign(old.AgentID, old.AgentType, old.Permissions)
	if err != nil {
		return "", nil, fault.Wrap(fault.KindAuthentication, fault.CodeAuthFailed, err, "mint refreshed token")
	}
	if a.vault != nil {
		if err := a.persistToken(ctx, fresh, id); err != nil {
			return "", nil, err
		}
		if err := a.store.DeleteToken(ctx, old.TokenID); err != nil {
			log.Warn().Err(err).Str("token_id", old.TokenID).Msg("Failed to revoke refreshed token")
		}
	}

	a.Audit(ctx, models.AuditEvent{
		EventType: "token_refreshed",
		AgentID:   old.AgentID,
		Metadata:  models.Metadata{"old_token_id": old.TokenID, "token_id": id.TokenID},
	})
	return fresh, id, nil
}

// RevokeToken deletes a token record, cutting its remaining lifetime
// short. A no-op when the vault is disabled.
func (a *Authority) RevokeToken(ctx context.Context, tokenID string) error {
	if a.vault == nil {
		return nil
	}
	return a.store.DeleteToken(ctx, tokenID)
}

func (a *Authority) persistToken(ctx context.Context, token string, id *contracts.Identity) error {
	sealed, err := a.vault.Seal([]byte(token))
	if err != nil {
		return fault.Wrap(fault.KindAuthentication, fault.CodeAuthFailed, err, "seal token")
	}
	return a.store.SaveToken(ctx, models.TokenRecord{
		TokenID:   id.TokenID,
		AgentID:   id.AgentID,
		Payload:   sealed,
		ExpiresAt: id.ExpiresAt,
		CreatedAt: id.IssuedAt,
	})
}

// Audit records a security event, best effort. Audit trouble is logged
// and swallowed so it can never fail the operation being audited.
func (a *Authority) Audit(ctx context.Context, ev models.AuditEvent) {
	if _, err := a.store.AppendAudit(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event_type", ev.EventType).Msg("Audit write failed")
	}
}

// PurgeExpiredTokens is the janitor hook for token-at-rest hygiene.
func (a *Authority) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	if a.vault == nil {
		return 0, nil
	}
	return a.store.PurgeExpiredTokens(ctx, now)
}
