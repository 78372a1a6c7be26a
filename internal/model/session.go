package model

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// SessionStatus is the persisted view of a session, mirrored from the
// in-memory connection state so dashboards survive restarts.
type SessionStatus string

const (
	SessionStatusQRRequired   SessionStatus = "qr_required"
	SessionStatusConnecting   SessionStatus = "connecting"
	SessionStatusOnline       SessionStatus = "online"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusLoggedOut    SessionStatus = "logged_out"
	SessionStatusFailed       SessionStatus = "failed"
)

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	UserID         string         `db:"user_id"`
	SessionID      string         `db:"session_id"`
	DisplayName    sql.NullString `db:"display_name"`
	JID            sql.NullString `db:"jid"`
	PhoneNumber    sql.NullString `db:"phone_number"`
	Status         SessionStatus  `db:"status"`
	IsDefault      bool           `db:"is_default"`
	QRCode         sql.NullString `db:"qr_code"`
	CreatedAt      time.Time      `db:"created_at"`
	ConnectedAt    sql.NullTime   `db:"connected_at"`
	DisconnectedAt sql.NullTime   `db:"disconnected_at"`
	LastSeen       sql.NullTime   `db:"last_seen"`
}

type SessionRepository interface {
	FindAll(ctx context.Context) ([]SessionRecord, error)
	Find(ctx context.Context, userID, sessionID string) (*SessionRecord, error)
	Ensure(ctx context.Context, userID, sessionID string, isDefault bool) error
	UpdateQR(ctx context.Context, userID, sessionID, code string) error
	MarkConnected(ctx context.Context, userID, sessionID, jid, phoneNumber string) error
	MarkDisconnected(ctx context.Context, userID, sessionID string, status SessionStatus) error
	Touch(ctx context.Context, userID, sessionID string) error
	SetDefault(ctx context.Context, userID, sessionID string) error
}

type sessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindAll(ctx context.Context) ([]SessionRecord, error) {
	var records []SessionRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM sessions
		WHERE status <> 'logged_out'
		ORDER BY user_id, session_id
	`)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *sessionRepo) Find(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM sessions WHERE user_id = $1 AND session_id = $2
	`, userID, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ensure creates the row on first connect and resets a logged out row back to
// connecting on a later one.
func (r *sessionRepo) Ensure(ctx context.Context, userID, sessionID string, isDefault bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, session_id, status, is_default, created_at)
		VALUES ($1, $2, 'connecting', $3, NOW())
		ON CONFLICT (user_id, session_id)
		DO UPDATE SET status = 'connecting', is_default = $3
	`, userID, sessionID, isDefault)
	return err
}

func (r *sessionRepo) UpdateQR(ctx context.Context, userID, sessionID, code string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			qr_code = $3,
			status = 'qr_required'
		WHERE user_id = $1 AND session_id = $2
	`, userID, sessionID, code)
	return err
}

func (r *sessionRepo) MarkConnected(ctx context.Context, userID, sessionID, jid, phoneNumber string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'online',
			jid = $3,
			phone_number = $4,
			qr_code = NULL,
			connected_at = NOW(),
			last_seen = NOW()
		WHERE user_id = $1 AND session_id = $2
	`, userID, sessionID, jid, phoneNumber)
	return err
}

func (r *sessionRepo) MarkDisconnected(ctx context.Context, userID, sessionID string, status SessionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $3,
			disconnected_at = NOW()
		WHERE user_id = $1 AND session_id = $2
	`, userID, sessionID, status)
	return err
}

// SetDefault leaves sessionID as the user's only default row.
func (r *sessionRepo) SetDefault(ctx context.Context, userID, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_default = (session_id = $2) WHERE user_id = $1
	`, userID, sessionID)
	return err
}

func (r *sessionRepo) Touch(ctx context.Context, userID, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_seen = NOW() WHERE user_id = $1 AND session_id = $2
	`, userID, sessionID)
	return err
}
