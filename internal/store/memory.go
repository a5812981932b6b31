package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/pkg/models"
)

// SetMemoryInput describes one memory upsert. SessionID nil scopes the
// entry globally; otherwise it lives and dies with the session.
type SetMemoryInput struct {
	AgentID   string
	SessionID *string
	Key       string
	Value     interface{}
	Metadata  models.Metadata
	ExpiresAt *time.Time
}

// SetMemory inserts or replaces a memory entry under the composite key
// (agent, session scope, key). New inserts are bounded by the per-agent
// entry limit; overwrites always succeed.
func (s *Store) SetMemory(ctx context.Context, in SetMemoryInput) (*models.MemoryEntry, error) {
	if in.AgentID == "" {
		return nil, fault.Validation(fault.CodeInvalidInput, "agent identity required").
			WithContext("field", "agent_id")
	}
	if in.Key == "" {
		return nil, fault.Validation(fault.CodeInvalidInput, "memory key must not be empty").
			WithContext("field", "key")
	}
	value, err := json.Marshal(in.Value)
	if err != nil {
		return nil, fault.Validation(fault.CodeInvalidInput, "value not serializable: %v", err).
			WithContext("field", "value")
	}
	md, err := s.encodeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &models.MemoryEntry{
		AgentID:   in.AgentID,
		SessionID: in.SessionID,
		Key:       in.Key,
		Value:     in.Value,
		Metadata:  in.Metadata,
		ExpiresAt: in.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.eng.WithTx(ctx, "store.set_memory", func(c storage.Conn) error {
		if in.SessionID != nil {
			ok, err := sessionExists(ctx, c, *in.SessionID)
			if err != nil {
				return err
			}
			if !ok {
				return fault.NotFound(fault.CodeSessionNotFound, "session %s not found", *in.SessionID).
					WithContext("session_id", *in.SessionID)
			}
		}

		res, err := c.Exec(ctx,
			`UPDATE agent_memory SET value = ?, metadata = ?, expires_at = ?, updated_at = ?
			 WHERE agent_id = ? AND COALESCE(session_id, '') = COALESCE(?, '') AND key = ?`,
			string(value), md, expiresArg(in.ExpiresAt), now,
			in.AgentID, in.SessionID, in.Key)
		if err != nil {
			return err
		}
		if res.RowsAffected > 0 {
			return nil
		}

		var count int
		if err := c.QueryRow(ctx,
			`SELECT COUNT(1) FROM agent_memory WHERE agent_id = ?`, in.AgentID).Scan(&count); err != nil {
			return fmt.Errorf("count memory entries: %w", err)
		}
		if count >= s.limits.MaxMemoryEntries {
			return fault.Validation(fault.CodeMemoryLimit,
				"agent %s holds %d memory entries, limit %d", in.AgentID, count, s.limits.MaxMemoryEntries).
				WithContext("count", count).
				WithContext("limit", s.limits.MaxMemoryEntries)
		}
		_, err = c.Exec(ctx,
			`INSERT INTO agent_memory (agent_id, session_id, key, value, metadata, expires_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			in.AgentID, in.SessionID, in.Key, string(value), md, expiresArg(in.ExpiresAt), now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func expiresArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// GetMemory fetches one live entry. Expired entries are inert: invisible
// here until the janitor purges them.
func (s *Store) GetMemory(ctx context.Context, agentID string, sessionID *string, key string) (*models.MemoryEntry, error) {
	var entry *models.MemoryEntry
	err := s.eng.WithTx(ctx, "store.get_memory", func(c storage.Conn) error {
		row := c.QueryRow(ctx,
			`SELECT agent_id, session_id, key, value, metadata, expires_at, created_at, updated_at
			 FROM agent_memory
			 WHERE agent_id = ? AND COALESCE(session_id, '') = COALESCE(?, '') AND key = ?
			   AND (expires_at IS NULL OR expires_at > ?)`,
			agentID, sessionID, key, time.Now().UTC())
		e, err := scanMemory(row)
		if err == storage.ErrNoRows {
			return fault.NotFound(fault.CodeMemoryNotFound,
				"memory key %q not found for agent %s", key, agentID).
				WithContext("key", key)
		}
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MemoryQuery lists an agent's live entries within one scope (global when
// SessionID is nil), optionally narrowed by key prefix.
type MemoryQuery struct {
	AgentID   string
	SessionID *string
	KeyPrefix string
	Limit     int
	Offset    int
}

// MemoryPage is one page of memory entries plus a has-more marker.
type MemoryPage struct {
	Entries []models.MemoryEntry
	HasMore bool
}

// ListMemory pages through an agent's live memory, ordered by key.
func (s *Store) ListMemory(ctx context.Context, q MemoryQuery) (*MemoryPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var page MemoryPage
	err := s.eng.WithTx(ctx, "store.list_memory", func(c storage.Conn) error {
		query := `SELECT agent_id, session_id, key, value, metadata, expires_at, created_at, updated_at
			 FROM agent_memory
			 WHERE agent_id = ? AND COALESCE(session_id, '') = COALESCE(?, '')
			   AND (expires_at IS NULL OR expires_at > ?)`
		args := []interface{}{q.AgentID, q.SessionID, time.Now().UTC()}
		if q.KeyPrefix != "" {
			query += ` AND key LIKE ? ESCAPE '\'`
			args = append(args, escapeLike(q.KeyPrefix)+"%")
		}
		query += ` ORDER BY key ASC LIMIT ? OFFSET ?`
		rows, err := c.Query(ctx, query, append(args, limit+1, offset)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanMemory(rows)
			if err != nil {
				return err
			}
			page.Entries = append(page.Entries, *e)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(page.Entries) > limit {
			page.HasMore = true
			page.Entries = page.Entries[:limit]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteMemory removes one entry regardless of expiry state.
func (s *Store) DeleteMemory(ctx context.Context, agentID string, sessionID *string, key string) error {
	return s.eng.WithTx(ctx, "store.delete_memory", func(c storage.Conn) error {
		res, err := c.Exec(ctx,
			`DELETE FROM agent_memory
			 WHERE agent_id = ? AND COALESCE(session_id, '') = COALESCE(?, '') AND key = ?`,
			agentID, sessionID, key)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return fault.NotFound(fault.CodeMemoryNotFound,
				"memory key %q not found for agent %s", key, agentID).
				WithContext("key", key)
		}
		return nil
	})
}

// PurgeExpiredMemory removes every entry past its expiry. Called by the
// janitor; expired entries are already invisible to reads.
func (s *Store) PurgeExpiredMemory(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.eng.WithTx(ctx, "store.purge_memory", func(c storage.Conn) error {
		res, err := c.Exec(ctx,
			`DELETE FROM agent_memory WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
		if err != nil {
			return err
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (*models.MemoryEntry, error) {
	var (
		e     models.MemoryEntry
		value string
		md    *string
	)
	err := row.Scan(&e.AgentID, &e.SessionID, &e.Key, &value, &md,
		&e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
		return nil, fmt.Errorf("decode memory value: %w", err)
	}
	if e.Metadata, err = decodeMetadata(md); err != nil {
		return nil, err
	}
	return &e, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
