// Package store is the data model and access-control layer: it interprets
// rows into domain entities and enforces the visibility rules on every
// read path. All persistence goes through the storage engine; nothing in
// this package holds a handle beyond a single operation.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/meshvault/meshvault/internal/config"
	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/pkg/models"
)

// Store executes session, message, memory, audit, and token-record
// operations against one storage engine.
type Store struct {
	eng    *storage.Engine
	limits config.LimitsConfig
}

// New creates a Store bound to the given engine and payload limits.
func New(eng *storage.Engine, limits config.LimitsConfig) *Store {
	return &Store{eng: eng, limits: limits}
}

// Engine exposes the underlying engine for health probes.
func (s *Store) Engine() *storage.Engine { return s.eng }

// ── Metadata handling ───────────────────────────────────────

// CoerceMetadata validates an untyped metadata value at the API boundary:
// absent stays absent, a string-keyed mapping passes, and anything else
// (scalars, arrays) is rejected before serialization.
func CoerceMetadata(v interface{}) (models.Metadata, error) {
	if v == nil {
		return nil, nil
	}
	switch m := v.(type) {
	case models.Metadata:
		return m, nil
	case map[string]interface{}:
		return models.Metadata(m), nil
	default:
		return nil, fault.Validation(fault.CodeInvalidMetadata,
			"metadata must be an object, got %T", v)
	}
}

// encodeMetadata serializes metadata for the TEXT column, enforcing the
// configured size ceiling. Absent metadata stays NULL so it round-trips
// to absent.
func (s *Store) encodeMetadata(md models.Metadata) (interface{}, error) {
	if md == nil {
		return nil, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, fault.Validation(fault.CodeInvalidMetadata, "metadata not serializable: %v", err)
	}
	if len(raw) > s.limits.MaxMetadataBytes {
		return nil, fault.Validation(fault.CodeInvalidMetadata,
			"metadata is %d bytes, limit %d", len(raw), s.limits.MaxMetadataBytes).
			WithContext("size", len(raw)).
			WithContext("limit", s.limits.MaxMetadataBytes)
	}
	return string(raw), nil
}

func decodeMetadata(raw *string) (models.Metadata, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var md models.Metadata
	if err := json.Unmarshal([]byte(*raw), &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}
