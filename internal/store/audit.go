package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meshvault/meshvault/internal/fault"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/pkg/models"
)

// AppendAudit writes one append-only audit event. The event ID and
// timestamp are assigned here so callers cannot backfill history.
func (s *Store) AppendAudit(ctx context.Context, ev models.AuditEvent) (*models.AuditEvent, error) {
	if ev.EventType == "" {
		return nil, fault.Validation(fault.CodeInvalidInput, "audit event type must not be empty").
			WithContext("field", "event_type")
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()
	md, err := s.encodeMetadata(ev.Metadata)
	if err != nil {
		return nil, err
	}
	err = s.eng.WithTx(ctx, "store.append_audit", func(c storage.Conn) error {
		_, err := c.Exec(ctx,
			`INSERT INTO audit_log (id, event_type, agent_id, session_id, metadata, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.EventType, ev.AgentID, ev.SessionID, md, ev.Timestamp)
		return err
	})
	if err != nil {
		return nil, fault.Audit(err, "append audit event %s", ev.EventType)
	}
	return &ev, nil
}

// AuditQuery narrows an audit listing. Zero values match everything.
type AuditQuery struct {
	AgentID   string
	EventType string
	SessionID string
	Since     time.Time
	Limit     int
	Offset    int
}

// AuditPage is one page of audit events, newest first.
type AuditPage struct {
	Events  []models.AuditEvent
	HasMore bool
}

// ListAudit pages through the audit log, newest first.
func (s *Store) ListAudit(ctx context.Context, q AuditQuery) (*AuditPage, error) {
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

	query := `SELECT id, event_type, agent_id, session_id, metadata, timestamp
		 FROM audit_log WHERE 1=1`
	args := []interface{}{}
	if q.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, q.AgentID)
	}
	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if q.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	if !q.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.Since.UTC())
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	var page AuditPage
	err := s.eng.WithTx(ctx, "store.list_audit", func(c storage.Conn) error {
		rows, err := c.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev models.AuditEvent
				md *string
			)
			if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AgentID,
				&ev.SessionID, &md, &ev.Timestamp); err != nil {
				return err
			}
			if ev.Metadata, err = decodeMetadata(md); err != nil {
				return err
			}
			page.Events = append(page.Events, ev)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(page.Events) > limit {
			page.HasMore = true
			page.Events = page.Events[:limit]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// PurgeAuditBefore trims audit rows older than the cutoff.
func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.eng.WithTx(ctx, "store.purge_audit", func(c storage.Conn) error {
		res, err := c.Exec(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, cutoff.UTC())
		if err != nil {
			return err
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}
