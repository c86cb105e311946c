// Package mcpserver persists MCP server specs against the three-table
// schema of spec §6, engine-agnostic across Postgres, MySQL, and SQLite.
package mcpserver

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/database/entities"
)

// Repository implements mcp.Repository against a GORM handle.
type Repository struct {
	db *gorm.DB
}

// New constructs the repository.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new server spec along with its args/env rows.
func (r *Repository) Create(ctx context.Context, spec mcp.ServerSpec) (mcp.ServerSpec, error) {
	entity := entities.NewMCPServerEntity(spec)
	if err := r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Create(entity).Error; err != nil {
		return mcp.ServerSpec{}, mcp.NewTransportError(spec.ID, "create server spec", err)
	}
	return r.Get(ctx, spec.ID)
}

// Update replaces a server spec's fields and fully replaces its args/env
// rows (order matters for args, so a delete-then-insert is simplest).
func (r *Repository) Update(ctx context.Context, spec mcp.ServerSpec) (mcp.ServerSpec, error) {
	entity := entities.NewMCPServerEntity(spec)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&entities.MCPServer{}).
			Where("id = ?", spec.ID).
			Select("Name", "Description", "Type", "URL", "Command", "Timeout", "Disabled").
			Updates(entity).Error; err != nil {
			return err
		}
		if err := tx.Where("server_id = ?", spec.ID).Delete(&entities.MCPServerArg{}).Error; err != nil {
			return err
		}
		if err := tx.Where("server_id = ?", spec.ID).Delete(&entities.MCPServerEnv{}).Error; err != nil {
			return err
		}
		if len(entity.Args) > 0 {
			if err := tx.Create(&entity.Args).Error; err != nil {
				return err
			}
		}
		if len(entity.Env) > 0 {
			if err := tx.Create(&entity.Env).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mcp.ServerSpec{}, mcp.NewTransportError(spec.ID, "update server spec", err)
	}
	return r.Get(ctx, spec.ID)
}

// Delete removes a server spec; associated args/env rows cascade via the
// explicit deletes below (no FK cascade is assumed, for SQLite parity).
func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("server_id = ?", id).Delete(&entities.MCPServerArg{}).Error; err != nil {
			return err
		}
		if err := tx.Where("server_id = ?", id).Delete(&entities.MCPServerEnv{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&entities.MCPServer{}).Error
	})
	if err != nil {
		return mcp.NewTransportError(id, "delete server spec", err)
	}
	return nil
}

// Get loads one server spec with its args (ordered) and env rows.
func (r *Repository) Get(ctx context.Context, id string) (mcp.ServerSpec, error) {
	var entity entities.MCPServer
	err := r.db.WithContext(ctx).
		Preload("Args", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Env").
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mcp.ServerSpec{}, mcp.NewServerNotFoundError(id)
		}
		return mcp.ServerSpec{}, mcp.NewTransportError(id, "load server spec", err)
	}
	return entity.ToDomain(), nil
}

// List loads every persisted server spec, used by the registry at startup.
func (r *Repository) List(ctx context.Context) ([]mcp.ServerSpec, error) {
	var rows []entities.MCPServer
	err := r.db.WithContext(ctx).
		Preload("Args", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Env").
		Find(&rows).Error
	if err != nil {
		return nil, mcp.NewTransportError("", "list server specs", err)
	}

	specs := make([]mcp.ServerSpec, 0, len(rows))
	for _, row := range rows {
		specs = append(specs, row.ToDomain())
	}
	return specs, nil
}

// UpdateCapabilities caches the peer's last advertised capabilities.
// Best-effort: callers should log and continue on failure.
func (r *Repository) UpdateCapabilities(ctx context.Context, id string, caps mcp.ServerCapabilities) error {
	raw, err := entities.CapabilitiesJSON(caps)
	if err != nil {
		return mcp.NewTransportError(id, "marshal capabilities", err)
	}
	err = r.db.WithContext(ctx).Model(&entities.MCPServer{}).
		Where("id = ?", id).
		Update("last_capabilities", raw).Error
	if err != nil {
		return mcp.NewTransportError(id, "persist capabilities", err)
	}
	return nil
}
