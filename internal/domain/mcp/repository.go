package mcp

import "context"

// Repository persists ServerSpec configuration across restarts, implemented
// by internal/infrastructure/repository/mcpserver against Postgres, MySQL,
// or SQLite (spec §6).
type Repository interface {
	Create(ctx context.Context, spec ServerSpec) (ServerSpec, error)
	Update(ctx context.Context, spec ServerSpec) (ServerSpec, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (ServerSpec, error)
	List(ctx context.Context) ([]ServerSpec, error)

	// UpdateCapabilities caches the peer's last advertised capabilities
	// for display without forcing a reconnect. Best-effort: callers log
	// and continue on failure rather than treating it as fatal.
	UpdateCapabilities(ctx context.Context, id string, caps ServerCapabilities) error
}
