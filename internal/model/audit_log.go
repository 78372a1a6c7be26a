// internal/model/audit_log.go
package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	AuditActionMessageSent      = "message_sent"
	AuditActionMessageFailed    = "message_failed"
	AuditActionJobSummary       = "job_summary"
	AuditActionLocationReceived = "location_received"
	AuditActionCustomerCreated  = "customer_created_from_location"

	AuditResourceCustomer = "customer"
	AuditResourceJob      = "job"
)

// AuditLog is an append-only history row for every send attempt and every
// inbound location correlation.
type AuditLog struct {
	ID           int64
	UserID       string
	SessionID    sql.NullString
	Action       string
	ResourceType sql.NullString
	ResourceID   sql.NullString
	Details      map[string]interface{}
	CreatedAt    time.Time
}

type AuditRepository interface {
	Log(ctx context.Context, entry *AuditLog) error
	ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]AuditLog, error)
}

type auditRepo struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &auditRepo{db: db}
}

// Log inserts entry and fills in its ID and CreatedAt.
func (r *auditRepo) Log(ctx context.Context, entry *AuditLog) error {
	// Empty details are stored as NULL instead of '{}'
	var detailsJSON interface{}
	if len(entry.Details) > 0 {
		jsonBytes, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		detailsJSON = jsonBytes
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (user_id, session_id, action, resource_type, resource_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		entry.UserID,
		entry.SessionID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		detailsJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *auditRepo) ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, action, resource_type, resource_id, details, created_at
		FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, resourceType, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var entry AuditLog
		var detailsJSON []byte

		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.SessionID,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&detailsJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, err
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// NullString is a small helper for optional audit columns.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
