package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"jan-server/services/mcp-gateway/internal/infrastructure/database/entities"
)

// AutoMigrate applies the server-registry schema (spec §6's three tables).
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&entities.MCPServer{},
		&entities.MCPServerArg{},
		&entities.MCPServerEnv{},
	); err != nil {
		return err
	}

	log.Info().Msg("database schema up to date")
	return nil
}
