// Package mcp defines the shared domain model for the MCP client engine:
// server specs, driver lifecycle, and the flattened tool/resource/prompt
// views the rest of the gateway consumes.
package mcp

import "time"

// Transport identifies the wire protocol used to reach an MCP server.
type Transport string

const (
	TransportStdio           Transport = "STDIO"
	TransportSSE             Transport = "SSE"
	TransportStreamableHTTP  Transport = "STREAMABLE_HTTP"
)

// ServerSpec is the persisted configuration of one MCP server.
type ServerSpec struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Description    string            `json:"description,omitempty"`
	TransportType  Transport         `json:"transport"`
	URL            string            `json:"url,omitempty"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Disabled       bool              `json:"disabled"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Timeout returns the per-RPC deadline, defaulting to 60s per spec §3.
func (s ServerSpec) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Validate checks the invariants required before a driver can be built.
func (s ServerSpec) Validate() error {
	if s.ID == "" {
		return NewValidationError("server id is required")
	}
	switch s.TransportType {
	case TransportStdio:
		if s.Command == "" {
			return NewValidationError("command is required for STDIO transport")
		}
	case TransportSSE, TransportStreamableHTTP:
		if s.URL == "" {
			return NewValidationError("url is required for SSE/STREAMABLE_HTTP transport")
		}
	default:
		return NewValidationError("unknown transport: " + string(s.TransportType))
	}
	return nil
}

// DriverState is the lifecycle state of a live connection.
type DriverState string

const (
	StateConnecting   DriverState = "CONNECTING"
	StateInitializing DriverState = "INITIALIZING"
	StateReady        DriverState = "READY"
	StateDisconnected DriverState = "DISCONNECTED"
	StateClosed       DriverState = "CLOSED"
)

// ServerCapabilities captures what the peer advertised during initialize.
type ServerCapabilities struct {
	ServerInfo map[string]any `json:"serverInfo,omitempty"`
	Raw        map[string]any `json:"capabilities,omitempty"`
}

// Tool is the flattened view of one MCP tool, tagged with its owning server.
type Tool struct {
	ServerName  string         `json:"serverName"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Resource is the flattened view of one MCP resource.
type Resource struct {
	ServerName  string `json:"serverName"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt is the flattened view of one MCP prompt template.
type Prompt struct {
	ServerName  string `json:"serverName"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Health is the point-in-time view of one server's connectivity.
type Health struct {
	ServerID       string              `json:"serverId"`
	Connected      bool                `json:"connected"`
	State          DriverState         `json:"state"`
	LastCheckAt    time.Time           `json:"lastCheckAt"`
	LastError      string              `json:"lastError,omitempty"`
	ResponseTimeMs int64               `json:"responseTimeMs"`
	Capabilities   *ServerCapabilities `json:"capabilities,omitempty"`
}

// RetryState is the per server-id retry bookkeeping described in spec §4.C.
type RetryState struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextAllowedAt       time.Time `json:"next_allowed_at"`
}
