// Package auth issues and validates HMAC-signed capability tokens and
// maps agent types to permission grants.
//
// Token format: base64url(JSON payload) + "." + base64url(HMAC-SHA256 sig).
// The payload is self-describing; signature verification alone is enough
// to validate a token, the token-at-rest store only adds revocation.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meshvault/meshvault/pkg/contracts"
)

// tokenPayload is the signed claim set carried inside every token.
type tokenPayload struct {
	AgentID     string   `json:"agent_id"`
	AgentType   string   `json:"agent_type"`
	Permissions []string `json:"permissions"`
	IssuedAt    int64    `json:"iat"`
	ExpiresAt   int64    `json:"exp"`
	Issuer      string   `json:"iss,omitempty"`
	Audience    string   `json:"aud,omitempty"`
	TokenID     string   `json:"jti"`
}

// Signer mints and verifies capability tokens with a shared HMAC secret.
type Signer struct {
	secret   []byte
	ttl      time.Duration
	leeway   time.Duration
	issuer   string
	audience string

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewSigner builds a Signer. The secret must not be empty; config
// validation enforces that before we get here.
func NewSigner(secret []byte, ttl, leeway time.Duration, issuer, audience string) *Signer {
	return &Signer{
		secret:   secret,
		ttl:      ttl,
		leeway:   leeway,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// Sign mints a token for the identity and returns the token string plus
// the identity actually embedded (with jti and validity window filled in).
func (s *Signer) Sign(agentID, agentType string, perms []contracts.Permission) (string, *contracts.Identity, error) {
	now := s.now().UTC()
	id := &contracts.Identity{
		AgentID:     agentID,
		AgentType:   agentType,
		Permissions: perms,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
		TokenID:     uuid.NewString(),
	}

	payload := tokenPayload{
		AgentID:     id.AgentID,
		AgentType:   id.AgentType,
		Permissions: permissionStrings(perms),
		IssuedAt:    id.IssuedAt.Unix(),
		ExpiresAt:   id.ExpiresAt.Unix(),
		Issuer:      s.issuer,
		Audience:    s.audience,
		TokenID:     id.TokenID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + s.signature(encoded), id, nil
}

// Validate checks a token end to end: structure, signature, claims,
// expiry. It never returns an error; every failure mode is a reason.
func (s *Signer) Validate(token string) contracts.TokenValidation {
	payloadB64, sigB64, ok := splitToken(token)
	if !ok {
		return invalid(contracts.ReasonMalformed)
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return invalid(contracts.ReasonMalformed)
	}
	expected, err := base64.RawURLEncoding.DecodeString(s.signature(payloadB64))
	if err != nil {
		return invalid(contracts.ReasonMalformed)
	}
	if !hmac.Equal(sig, expected) {
		return invalid(contracts.ReasonSignatureInvalid)
	}

	raw, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return invalid(contracts.ReasonMalformed)
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return invalid(contracts.ReasonMalformed)
	}

	if payload.AgentID == "" || payload.ExpiresAt == 0 || payload.TokenID == "" {
		return invalid(contracts.ReasonMissingClaims)
	}
	expiry := time.Unix(payload.ExpiresAt, 0).Add(s.leeway)
	if s.now().After(expiry) {
		return invalid(contracts.ReasonExpired)
	}

	perms := make([]contracts.Permission, 0, len(payload.Permissions))
	for _, p := range payload.Permissions {
		perms = append(perms, contracts.Permission(p))
	}
	return contracts.TokenValidation{
		Valid: true,
		Identity: &contracts.Identity{
			AgentID:     payload.AgentID,
			AgentType:   payload.AgentType,
			Permissions: perms,
			IssuedAt:    time.Unix(payload.IssuedAt, 0).UTC(),
			ExpiresAt:   time.Unix(payload.ExpiresAt, 0).UTC(),
			TokenID:     payload.TokenID,
		},
	}
}

func (s *Signer) signature(payloadB64 string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func invalid(reason contracts.InvalidReason) contracts.TokenValidation {
	return contracts.TokenValidation{Valid: false, Reason: reason}
}

// splitToken separates payload from signature at the last dot, so a dot
// inside a (corrupt) payload still pairs with the trailing signature.
func splitToken(token string) (payload, sig string, ok bool) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return token[:i], token[i+1:], i > 0 && i < len(token)-1
		}
	}
	return "", "", false
}

func permissionStrings(perms []contracts.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
