// internal/helper/schema.go
package helper

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// InitCustomSchema creates the application tables. It is idempotent and is
// run when the binary is started with --createschema.
func InitCustomSchema(ctx context.Context, db *sqlx.DB) error {
	sessionSchema := `
        CREATE TABLE IF NOT EXISTS sessions (
            user_id             VARCHAR(255) NOT NULL,
            session_id          VARCHAR(255) NOT NULL,
            display_name        VARCHAR(255),
            jid                 VARCHAR(255),
            phone_number        VARCHAR(50),
            status              VARCHAR(50) NOT NULL DEFAULT 'connecting',
            is_default          BOOLEAN NOT NULL DEFAULT false,
            qr_code             TEXT,
            created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            connected_at        TIMESTAMPTZ,
            disconnected_at     TIMESTAMPTZ,
            last_seen           TIMESTAMPTZ,
            PRIMARY KEY (user_id, session_id)
        );

        CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
        CREATE INDEX IF NOT EXISTS idx_sessions_jid ON sessions(jid);
    `
	if _, err := db.ExecContext(ctx, sessionSchema); err != nil {
		return fmt.Errorf("init sessions schema: %w", err)
	}

	customerSchema := `
        CREATE TABLE IF NOT EXISTS customers (
            id                  VARCHAR(36) PRIMARY KEY,
            user_id             VARCHAR(255) NOT NULL,
            name                VARCHAR(255) NOT NULL DEFAULT '',
            phone               VARCHAR(50),
            secondary_phone     VARCHAR(50),
            latitude            DOUBLE PRECISION,
            longitude           DOUBLE PRECISION,
            location_label      TEXT,
            location_received   BOOLEAN NOT NULL DEFAULT false,
            location_updated_at TIMESTAMPTZ,
            created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );

        CREATE INDEX IF NOT EXISTS idx_customers_user_id ON customers(user_id);
    `
	if _, err := db.ExecContext(ctx, customerSchema); err != nil {
		return fmt.Errorf("init customers schema: %w", err)
	}

	auditSchema := `
        CREATE TABLE IF NOT EXISTS audit_logs (
            id              BIGSERIAL PRIMARY KEY,
            user_id         VARCHAR(255) NOT NULL,
            session_id      VARCHAR(255),
            action          VARCHAR(100) NOT NULL,
            resource_type   VARCHAR(50),
            resource_id     VARCHAR(255),
            details         JSONB,
            created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );

        CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
        CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
    `
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}

	log.Info().Msg("custom schema ensured")
	return nil
}
