// Package contracts defines the boundary types between the identity layer
// and everything that consumes an identity: the access-control read path,
// the audit trail, and the external tool-invocation runtime.
//
// No consumer ever inspects a raw token. Validation produces an Identity
// (or a structured invalidity reason) and all downstream visibility and
// permission decisions depend only on that.
package contracts

import "time"

// ── Permissions ─────────────────────────────────────────────

// Permission is one grantable capability.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
	PermissionDebug Permission = "debug"
)

// KnownPermissions is the full permission universe, in grant order.
var KnownPermissions = []Permission{
	PermissionRead, PermissionWrite, PermissionAdmin, PermissionDebug,
}

// ── Identity ────────────────────────────────────────────────

// Identity is the (agent_id, agent_type) pair resolved from a validated
// capability token, plus the permissions the token carries.
//
// This is the contract boundary between authn and authz: every visibility
// decision in the store keys off Identity.AgentID, never off the token.
type Identity struct {
	// AgentID uniquely identifies the calling agent process.
	AgentID string `json:"agent_id"`

	// AgentType classifies the agent ("admin", "orchestrator", "worker",
	// "generic", ...) and bounds which permissions it may be granted.
	AgentType string `json:"agent_type"`

	// Permissions is the granted subset of KnownPermissions.
	Permissions []Permission `json:"permissions"`

	// IssuedAt and ExpiresAt bound the token's validity window.
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// TokenID is the unique id (jti) of the token that produced this
	// identity, used for token-at-rest lookup and revocation.
	TokenID string `json:"token_id"`
}

// Has reports whether the identity holds the given permission.
func (i *Identity) Has(p Permission) bool {
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// ── Token validation result ─────────────────────────────────

// InvalidReason classifies why a token failed validation.
type InvalidReason string

const (
	ReasonExpired          InvalidReason = "expired"
	ReasonMalformed        InvalidReason = "malformed"
	ReasonSignatureInvalid InvalidReason = "signature_invalid"
	ReasonMissingClaims    InvalidReason = "missing_claims"
	ReasonRevoked          InvalidReason = "revoked"
)

// TokenValidation is the structured outcome of validating a capability
// token. Validation never panics and never returns a bare error past this
// boundary: the result is either a usable Identity or a reason.
type TokenValidation struct {
	Valid    bool          `json:"valid"`
	Identity *Identity     `json:"identity,omitempty"`
	Reason   InvalidReason `json:"reason,omitempty"`
}
