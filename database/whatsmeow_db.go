package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ConnectDeviceStore opens the whatsmeow credential store and runs its
// migrations. Every paired session keeps its keys here.
func ConnectDeviceStore(ctx context.Context, dbURL string) (*sqlstore.Container, error) {
	dbLog := waLog.Zerolog(log.Logger.With().Str("component", "whatsmeow-db").Logger())
	container, err := sqlstore.New(ctx, "postgres", dbURL, dbLog)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return container, nil
}
