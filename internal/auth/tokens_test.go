package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/meshvault/meshvault/pkg/contracts"
)

func testSigner() *Signer {
	return NewSigner([]byte("test-secret"), time.Hour, 30*time.Second, "meshvault", "meshvault-agents")
}

func TestSignValidateRoundTrip(t *testing.T) {
	s := testSigner()

	token, id, err := s.Sign("agent-a", "worker",
		[]contracts.Permission{contracts.PermissionRead, contracts.PermissionWrite})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if id.TokenID == "" {
		t.Error("no jti assigned")
	}

	result := s.Validate(token)
	if !result.Valid {
		t.Fatalf("fresh token invalid: %s", result.Reason)
	}
	if result.Identity.AgentID != "agent-a" || result.Identity.AgentType != "worker" {
		t.Errorf("identity = %+v", result.Identity)
	}
	if !result.Identity.Has(contracts.PermissionWrite) {
		t.Error("write permission lost in transit")
	}
	if result.Identity.Has(contracts.PermissionAdmin) {
		t.Error("admin permission appeared from nowhere")
	}
	if result.Identity.TokenID != id.TokenID {
		t.Errorf("jti mismatch: %s vs %s", result.Identity.TokenID, id.TokenID)
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	s := testSigner()
	token, _, err := s.Sign("agent-a", "worker", []contracts.Permission{contracts.PermissionRead})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	cases := []struct {
		name   string
		token  string
		reason contracts.InvalidReason
	}{
		{"no dot", "garbage", contracts.ReasonMalformed},
		{"empty", "", contracts.ReasonMalformed},
		{"payload swapped", "eyJmb28iOiJiYXIifQ." + strings.SplitN(token, ".", 2)[1], contracts.ReasonSignatureInvalid},
		{"signature truncated", token[:len(token)-4], contracts.ReasonSignatureInvalid},
		{"signature not base64", strings.SplitN(token, ".", 2)[0] + ".!!!", contracts.ReasonMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := s.Validate(tc.token)
			if result.Valid {
				t.Fatal("tampered token validated")
			}
			if result.Reason != tc.reason {
				t.Errorf("reason = %s, want %s", result.Reason, tc.reason)
			}
		})
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, _, err := testSigner().Sign("agent-a", "worker", nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	other := NewSigner([]byte("other-secret"), time.Hour, 0, "", "")
	if result := other.Validate(token); result.Valid || result.Reason != contracts.ReasonSignatureInvalid {
		t.Errorf("cross-secret validation: %+v", result)
	}
}

func TestValidateExpiryWithLeeway(t *testing.T) {
	s := testSigner()
	token, _, err := s.Sign("agent-a", "worker", nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Just past expiry but inside the leeway window: still valid.
	s.now = func() time.Time { return time.Now().Add(time.Hour + 10*time.Second) }
	if result := s.Validate(token); !result.Valid {
		t.Errorf("token inside leeway rejected: %s", result.Reason)
	}

	// Past expiry plus leeway: expired.
	s.now = func() time.Time { return time.Now().Add(time.Hour + time.Minute) }
	if result := s.Validate(token); result.Valid || result.Reason != contracts.ReasonExpired {
		t.Errorf("stale token: %+v", result)
	}
}

func TestValidateMissingClaims(t *testing.T) {
	s := testSigner()
	token, _, err := s.Sign("", "worker", nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result := s.Validate(token); result.Valid || result.Reason != contracts.ReasonMissingClaims {
		t.Errorf("empty agent_id token: %+v", result)
	}
}
