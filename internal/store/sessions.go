package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/pkg/models"
)

// NewSessionID mints an opaque session token: "session_" + 16 lowercase
// hex characters.
func NewSessionID() string {
	var b [8]byte
	rand.Read(b[:])
	return "session_" + hex.EncodeToString(b[:])
}

// CreateSession validates inputs and persists a new active session.
func (s *Store) CreateSession(ctx context.Context, purpose string, metadata models.Metadata, creator string) (*models.Session, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return nil, fault.Validation(fault.CodeInvalidInput, "purpose must not be empty").
			WithContext("field", "purpose")
	}
	if creator == "" {
		return nil, fault.Validation(fault.CodeInvalidInput, "creator identity required").
			WithContext("field", "creator")
	}
	md, err := s.encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:        NewSessionID(),
		Purpose:   purpose,
		CreatedBy: creator,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
	}
	err = s.eng.WithTx(ctx, "store.create_session", func(c storage.Conn) error {
		_, err := c.Exec(ctx,
			`INSERT INTO sessions (id, purpose, created_by, metadata, created_at, updated_at, active)
			 VALUES (?, ?, ?, ?, ?, ?, 1)`,
			session.ID, session.Purpose, session.CreatedBy, md, now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session *models.Session
	err := s.eng.WithTx(ctx, "store.get_session", func(c storage.Conn) error {
		var err error
		session, err = scanSession(ctx, c, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func scanSession(ctx context.Context, c storage.Conn, id string) (*models.Session, error) {
	var (
		session models.Session
		md      *string
		active  int
	)
	err := c.QueryRow(ctx,
		`SELECT id, purpose, created_by, metadata, created_at, updated_at, active
		 FROM sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.Purpose, &session.CreatedBy, &md,
			&session.CreatedAt, &session.UpdatedAt, &active)
	if err == storage.ErrNoRows {
		return nil, fault.NotFound(fault.CodeSessionNotFound, "session %s not found", id).
			WithContext("session_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	session.Active = active == 1
	session.Metadata, err = decodeMetadata(md)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func sessionExists(ctx context.Context, c storage.Conn, id string) (bool, error) {
	var n int
	if err := c.QueryRow(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check session %s: %w", id, err)
	}
	return n > 0, nil
}

// UpdateSessionMetadata replaces the session's metadata. updated_at is
// touched by the schema trigger.
func (s *Store) UpdateSessionMetadata(ctx context.Context, id string, metadata models.Metadata) error {
	md, err := s.encodeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.eng.WithTx(ctx, "store.update_session", func(c storage.Conn) error {
		res, err := c.Exec(ctx, `UPDATE sessions SET metadata = ? WHERE id = ?`, md, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return fault.NotFound(fault.CodeSessionNotFound, "session %s not found", id).
				WithContext("session_id", id)
		}
		return nil
	})
}

// DeleteSession removes a session. The schema's referential constraints,
// not application-level deletes, cascade to its messages and
// session-scoped memory, so the cascade holds under concurrent access.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.eng.WithTx(ctx, "store.delete_session", func(c storage.Conn) error {
		res, err := c.Exec(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return fault.NotFound(fault.CodeSessionNotFound, "session %s not found", id).
				WithContext("session_id", id)
		}
		return nil
	})
}

// PurgeInactiveSessions deletes sessions untouched since the cutoff.
// Cascades take the dependent rows with them.
func (s *Store) PurgeInactiveSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.eng.WithTx(ctx, "store.purge_sessions", func(c storage.Conn) error {
		res, err := c.Exec(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC())
		if err != nil {
			return err
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}
