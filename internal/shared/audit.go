package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry represents a record stored in audit_entries. The table is
// append-only: entries are written when reconciliation detects and
// corrects drift or performs a repair, and are never updated or deleted.
type AuditEntry struct {
	ID          int64
	Entity      string
	EntityID    int64
	Action      string
	OldValues   map[string]any
	NewValues   map[string]any
	TriggeredBy string
	CreatedAt   time.Time
}

// AuditLogger writes records into audit_entries.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == 0 {
		return errors.New("audit entry requires action/entity/entity_id")
	}
	oldJSON, err := json.Marshal(entry.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(entry.NewValues)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_entries (entity, entity_id, action, old_values, new_values, triggered_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		entry.Entity, entry.EntityID, entry.Action, oldJSON, newJSON, entry.TriggeredBy, nullTime(entry.CreatedAt))
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
