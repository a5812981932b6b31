// Package service is the operation surface of the context store. Every
// operation authenticates a capability token, gates on a permission,
// executes against the store, and reports through a uniform envelope.
package service

import (
	"github.com/meshvault/meshvault/internal/fault"
)

// Status is the uniform result envelope every operation embeds. Success
// carries data in the operation-specific fields; failure carries a stable
// machine-readable code plus a human-readable message.
type Status struct {
	Success bool                   `json:"success"`
	Code    string                 `json:"code,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func ok() Status {
	return Status{Success: true}
}

// failFrom translates any error into a failure Status, collapsing
// unclassified errors into INTERNAL_ERROR so callers never see raw
// driver noise.
func failFrom(err error) Status {
	code := fault.CodeOf(err)
	if code == "" {
		code = fault.CodeInternal
	}
	return Status{
		Success: false,
		Code:    code,
		Error:   err.Error(),
		Context: fault.ContextOf(err),
	}
}
