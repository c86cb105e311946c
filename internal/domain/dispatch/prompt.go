package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
)

const directiveInstruction = "To invoke a tool, emit a fenced JSON block of the form:\n```json\n" +
	`{"type":"mcp_tool_call","server_name":"<id>","tool_name":"<name>","arguments":{...}}` +
	"\n```\nEmit nothing else inside that fence."

// buildSystemPrompt lists every tool from every ready, selected server and
// appends the directive-emission instruction (spec §4.F).
func buildSystemPrompt(tools []mcp.Tool) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, t := range tools {
		schema, _ := json.Marshal(t.InputSchema)
		fmt.Fprintf(&b, "- serverId=%s toolName=%s: %s\n  inputSchema: %s\n", t.ServerName, t.Name, t.Description, schema)
	}
	b.WriteString("\n")
	b.WriteString(directiveInstruction)
	return b.String()
}
