package entities

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
)

// MCPServer is the persisted configuration of one MCP server (spec §6's
// three-table schema, engine-agnostic across Postgres/MySQL/SQLite).
type MCPServer struct {
	ID             string    `gorm:"type:varchar(128);primaryKey"`
	Name           string    `gorm:"type:varchar(128)"`
	Description    string    `gorm:"type:text"`
	Type           string    `gorm:"type:varchar(32);not null"`
	URL            string    `gorm:"type:varchar(512)"`
	Command        string    `gorm:"type:varchar(512)"`
	Timeout        int       `gorm:"not null;default:60"`
	Disabled       bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`

	// LastCapabilities caches the peer's last advertised capabilities so an
	// admin listing can show them without forcing a reconnect.
	LastCapabilities datatypes.JSON `gorm:"type:json"`

	Args []MCPServerArg `gorm:"foreignKey:ServerID;references:ID"`
	Env  []MCPServerEnv `gorm:"foreignKey:ServerID;references:ID"`
}

// TableName specifies the table name for MCPServer.
func (MCPServer) TableName() string {
	return "mcp_servers"
}

// MCPServerArg preserves one positional command-line argument for a STDIO
// server. Position holds insertion order since SQL result order is not
// guaranteed without it.
type MCPServerArg struct {
	ServerID string `gorm:"type:varchar(128);primaryKey"`
	Position int    `gorm:"primaryKey"`
	Arg      string `gorm:"type:text"`
}

// TableName specifies the table name for MCPServerArg.
func (MCPServerArg) TableName() string {
	return "mcp_server_args"
}

// MCPServerEnv is one environment variable for a STDIO server's child
// process.
type MCPServerEnv struct {
	ServerID string `gorm:"type:varchar(128);primaryKey"`
	EnvKey   string `gorm:"type:varchar(256);primaryKey"`
	EnvValue string `gorm:"type:text"`
}

// TableName specifies the table name for MCPServerEnv.
func (MCPServerEnv) TableName() string {
	return "mcp_server_env"
}

// ToDomain converts the entity (with its loaded Args/Env associations) into
// a domain ServerSpec.
func (e *MCPServer) ToDomain() mcp.ServerSpec {
	args := make([]string, len(e.Args))
	for _, a := range e.Args {
		if a.Position >= 0 && a.Position < len(args) {
			args[a.Position] = a.Arg
		}
	}

	var env map[string]string
	if len(e.Env) > 0 {
		env = make(map[string]string, len(e.Env))
		for _, kv := range e.Env {
			env[kv.EnvKey] = kv.EnvValue
		}
	}

	return mcp.ServerSpec{
		ID:             e.ID,
		Name:           e.Name,
		Description:    e.Description,
		TransportType:  mcp.Transport(e.Type),
		URL:            e.URL,
		Command:        e.Command,
		Args:           args,
		Env:            env,
		TimeoutSeconds: e.Timeout,
		Disabled:       e.Disabled,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// CapabilitiesJSON marshals caps for storage in LastCapabilities.
func CapabilitiesJSON(caps mcp.ServerCapabilities) (datatypes.JSON, error) {
	raw, err := json.Marshal(caps)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// Capabilities unmarshals LastCapabilities back into the domain type. A
// nil/empty cache yields the zero value, not an error.
func (e *MCPServer) Capabilities() mcp.ServerCapabilities {
	var caps mcp.ServerCapabilities
	if len(e.LastCapabilities) == 0 {
		return caps
	}
	_ = json.Unmarshal(e.LastCapabilities, &caps)
	return caps
}

// NewMCPServerEntity builds the three-table entity set from a domain spec.
func NewMCPServerEntity(spec mcp.ServerSpec) *MCPServer {
	args := make([]MCPServerArg, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = MCPServerArg{ServerID: spec.ID, Position: i, Arg: a}
	}

	env := make([]MCPServerEnv, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, MCPServerEnv{ServerID: spec.ID, EnvKey: k, EnvValue: v})
	}

	return &MCPServer{
		ID:          spec.ID,
		Name:        spec.Name,
		Description: spec.Description,
		Type:        string(spec.TransportType),
		URL:         spec.URL,
		Command:     spec.Command,
		Timeout:     spec.TimeoutSeconds,
		Disabled:    spec.Disabled,
		Args:        args,
		Env:         env,
	}
}
