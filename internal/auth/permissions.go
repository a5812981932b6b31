package auth

import (
	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/pkg/contracts"
)

// typeGrants bounds what each agent type may be granted. Unknown types
// fall through to the generic row.
var typeGrants = map[string][]contracts.Permission{
	"admin":        {contracts.PermissionRead, contracts.PermissionWrite, contracts.PermissionAdmin, contracts.PermissionDebug},
	"orchestrator": {contracts.PermissionRead, contracts.PermissionWrite},
	"worker":       {contracts.PermissionRead, contracts.PermissionWrite},
	"generic":      {contracts.PermissionRead},
}

// Grant resolves the permissions an agent of the given type actually
// receives: the intersection of what it asked for and what its type
// allows, with read always included. Asking for nothing grants read
// only; broader access must be requested explicitly.
func Grant(agentType string, requested []contracts.Permission) []contracts.Permission {
	allowed, ok := typeGrants[agentType]
	if !ok {
		allowed = typeGrants["generic"]
	}
	if len(requested) == 0 {
		return ensureRead(nil)
	}

	allowedSet := make(map[contracts.Permission]bool, len(allowed))
	for _, p := range allowed {
		allowedSet[p] = true
	}
	var out []contracts.Permission
	for _, p := range contracts.KnownPermissions {
		if allowedSet[p] && containsPermission(requested, p) {
			out = append(out, p)
		}
	}
	return ensureRead(out)
}

// RequirePermission gates an operation on the identity holding the
// permission, returning a structured denial otherwise.
func RequirePermission(id *contracts.Identity, p contracts.Permission) error {
	if id == nil {
		return fault.Authentication("no identity")
	}
	if !id.Has(p) {
		return fault.Authorization("agent %s lacks %q permission", id.AgentID, p).
			WithContext("agent_id", id.AgentID).
			WithContext("required", string(p)).
			WithContext("held", permissionStrings(id.Permissions))
	}
	return nil
}

func ensureRead(perms []contracts.Permission) []contracts.Permission {
	if containsPermission(perms, contracts.PermissionRead) {
		return perms
	}
	return append([]contracts.Permission{contracts.PermissionRead}, perms...)
}

func containsPermission(perms []contracts.Permission, p contracts.Permission) bool {
	for _, have := range perms {
		if have == p {
			return true
		}
	}
	return false
}
