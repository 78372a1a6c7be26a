package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	pingTimeout     = 5 * time.Second
)

// ConnectApp opens the application database (customers, audit rows, session
// metadata). The whatsmeow device store lives in a separate database.
func ConnectApp(appDbURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", appDbURL)
	if err != nil {
		return nil, fmt.Errorf("open app db: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping app db: %w", err)
	}
	return db, nil
}
