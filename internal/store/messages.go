package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/pkg/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// AddMessageInput carries everything needed to append one message.
type AddMessageInput struct {
	SessionID  string
	Sender     string
	SenderType string
	Content    string
	Visibility models.Visibility
	Metadata   models.Metadata
	ParentID   *int64
}

// normalizeContent trims surrounding whitespace and canonicalizes line
// endings so length checks and dedup behave the same for every client.
func normalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimSpace(content)
}

// AddMessage validates and appends a message to a session. The session
// must exist at insert time; the check and the insert share one
// transaction so a concurrent session delete cannot orphan the row.
func (s *Store) AddMessage(ctx context.Context, in AddMessageInput) (*models.Message, error) {
	content := normalizeContent(in.Content)
	if content == "" {
		return nil, fault.Validation(fault.CodeInvalidInput, "content is empty after normalization").
			WithContext("field", "content")
	}
	if len(content) > s.limits.MaxMessageLength {
		return nil, fault.Validation(fault.CodeInvalidInput,
			"content is %d bytes, limit %d", len(content), s.limits.MaxMessageLength).
			WithContext("size", len(content)).
			WithContext("limit", s.limits.MaxMessageLength)
	}
	if !in.Visibility.Valid() {
		return nil, fault.Validation(fault.CodeInvalidVisibility,
			"visibility %q is not one of public, private, agent_only", in.Visibility).
			WithContext("visibility", string(in.Visibility))
	}
	if in.Sender == "" {
		return nil, fault.Validation(fault.CodeInvalidInput, "sender identity required").
			WithContext("field", "sender")
	}
	md, err := s.encodeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &models.Message{
		SessionID:  in.SessionID,
		Sender:     in.Sender,
		SenderType: in.SenderType,
		Content:    content,
		Visibility: in.Visibility,
		Metadata:   in.Metadata,
		ParentID:   in.ParentID,
		Timestamp:  now,
	}
	err = s.eng.WithTx(ctx, "store.add_message", func(c storage.Conn) error {
		ok, err := sessionExists(ctx, c, in.SessionID)
		if err != nil {
			return err
		}
		if !ok {
			return fault.NotFound(fault.CodeSessionNotFound, "session %s not found", in.SessionID).
				WithContext("session_id", in.SessionID)
		}
		if in.ParentID != nil {
			var n int
			err := c.QueryRow(ctx,
				`SELECT COUNT(1) FROM messages WHERE id = ? AND session_id = ?`,
				*in.ParentID, in.SessionID).Scan(&n)
			if err != nil {
				return fmt.Errorf("check parent message: %w", err)
			}
			if n == 0 {
				return fault.NotFound(fault.CodeMessageNotFound,
					"parent message %d not found in session %s", *in.ParentID, in.SessionID).
					WithContext("parent_id", *in.ParentID)
			}
		}
		res, err := c.Exec(ctx,
			`INSERT INTO messages (session_id, sender, sender_type, content, visibility, metadata, parent_id, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			in.SessionID, in.Sender, in.SenderType, content, string(in.Visibility), md, in.ParentID, now)
		if err != nil {
			return err
		}
		msg.ID = res.LastInsertID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MessageQuery selects a visibility-filtered page of messages.
type MessageQuery struct {
	SessionID string
	Requester string
	// Visibility, when set, restricts results to exactly that class,
	// still subject to the ownership rule for non-public classes.
	Visibility *models.Visibility
	Limit      int
	Offset     int
}

// MessagePage is one page of an offset-based, restartable sequence.
type MessagePage struct {
	Messages []models.Message
	HasMore  bool
}

// GetMessages returns messages the requester is allowed to see, ordered by
// timestamp then id. A message is visible iff it is public, or it is
// private/agent_only and the requester is its sender.
func (s *Store) GetMessages(ctx context.Context, q MessageQuery) (*MessagePage, error) {
	if q.Visibility != nil && !q.Visibility.Valid() {
		return nil, fault.Validation(fault.CodeInvalidVisibility,
			"visibility %q is not one of public, private, agent_only", *q.Visibility).
			WithContext("visibility", string(*q.Visibility))
	}
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

	where := `session_id = ? AND (visibility = 'public' OR sender = ?)`
	args := []interface{}{q.SessionID, q.Requester}
	if q.Visibility != nil {
		if *q.Visibility == models.VisibilityPublic {
			where = `session_id = ? AND visibility = 'public'`
			args = []interface{}{q.SessionID}
		} else {
			where = `session_id = ? AND visibility = ? AND sender = ?`
			args = []interface{}{q.SessionID, string(*q.Visibility), q.Requester}
		}
	}

	var page MessagePage
	err := s.eng.WithTx(ctx, "store.get_messages", func(c storage.Conn) error {
		ok, err := sessionExists(ctx, c, q.SessionID)
		if err != nil {
			return err
		}
		if !ok {
			return fault.NotFound(fault.CodeSessionNotFound, "session %s not found", q.SessionID).
				WithContext("session_id", q.SessionID)
		}
		// Fetch one extra row to learn whether more pages exist.
		query := `SELECT id, session_id, sender, sender_type, content, visibility, metadata, parent_id, timestamp
			 FROM messages WHERE ` + where + `
			 ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`
		rows, err := c.Query(ctx, query, append(args, limit+1, offset)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				m   models.Message
				md  *string
				vis string
			)
			if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.SenderType,
				&m.Content, &vis, &md, &m.ParentID, &m.Timestamp); err != nil {
				return err
			}
			m.Visibility = models.Visibility(vis)
			if m.Metadata, err = decodeMetadata(md); err != nil {
				return err
			}
			page.Messages = append(page.Messages, m)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(page.Messages) > limit {
			page.HasMore = true
			page.Messages = page.Messages[:limit]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// CountMessages returns how many messages a session holds, ignoring
// visibility. Used by diagnostics, never exposed to callers directly.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.eng.WithTx(ctx, "store.count_messages", func(c storage.Conn) error {
		return c.QueryRow(ctx, `SELECT COUNT(1) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	})
	return n, err
}
