package store

import (
	"context"
	"time"

	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/pkg/models"
)

// SaveToken persists an encrypted token record. Re-saving a token ID
// replaces the stored ciphertext, which covers refresh races.
func (s *Store) SaveToken(ctx context.Context, rec models.TokenRecord) error {
	if rec.TokenID == "" || rec.AgentID == "" {
		return fault.Validation(fault.CodeInvalidInput, "token record needs token_id and agent_id")
	}
	return s.eng.WithTx(ctx, "store.save_token", func(c storage.Conn) error {
		_, err := c.Exec(ctx,
			`INSERT INTO secure_tokens (token_id, agent_id, payload, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(token_id) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
			rec.TokenID, rec.AgentID, rec.Payload, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC())
		return err
	})
}

// GetToken loads one token record by ID.
func (s *Store) GetToken(ctx context.Context, tokenID string) (*models.TokenRecord, error) {
	var rec models.TokenRecord
	err := s.eng.WithTx(ctx, "store.get_token", func(c storage.Conn) error {
		err := c.QueryRow(ctx,
			`SELECT token_id, agent_id, payload, expires_at, created_at
			 FROM secure_tokens WHERE token_id = ?`, tokenID).
			Scan(&rec.TokenID, &rec.AgentID, &rec.Payload, &rec.ExpiresAt, &rec.CreatedAt)
		if err == storage.ErrNoRows {
			return fault.Authentication("token %s not on record", tokenID).
				WithContext("token_id", tokenID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteToken revokes a stored token. Deleting an unknown ID is a no-op;
// revocation must be idempotent.
func (s *Store) DeleteToken(ctx context.Context, tokenID string) error {
	return s.eng.WithTx(ctx, "store.delete_token", func(c storage.Conn) error {
		_, err := c.Exec(ctx, `DELETE FROM secure_tokens WHERE token_id = ?`, tokenID)
		return err
	})
}

// PurgeExpiredTokens drops records whose tokens can no longer validate.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.eng.WithTx(ctx, "store.purge_tokens", func(c storage.Conn) error {
		res, err := c.Exec(ctx, `DELETE FROM secure_tokens WHERE expires_at <= ?`, now.UTC())
		if err != nil {
			return err
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}
