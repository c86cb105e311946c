package dispatch

import (
	"encoding/json"
	"strings"
)

const directiveType = "mcp_tool_call"

// directiveCandidate is the raw JSON shape a fenced block must match before
// it is accepted as a Directive.
type directiveCandidate struct {
	Type       string         `json:"type"`
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
}

// BufferScanner accumulates the visible-content stream and extracts fenced
// JSON tool-call directives in close-order as soon as each closing fence
// arrives, regardless of how the caller's tokens are split (spec §8
// property 8).
type BufferScanner struct {
	buf      strings.Builder
	scanFrom int
}

// Write appends a content delta to the rolling buffer.
func (s *BufferScanner) Write(delta string) {
	s.buf.WriteString(delta)
}

// String returns the full accumulated visible content so far.
func (s *BufferScanner) String() string {
	return s.buf.String()
}

// Extract scans for newly-closed fenced JSON blocks since the last call and
// returns the well-formed mcp_tool_call directives found, in close-order.
func (s *BufferScanner) Extract() []Directive {
	content := s.buf.String()
	var directives []Directive

	for {
		openIdx := strings.Index(content[s.scanFrom:], "```")
		if openIdx == -1 {
			return directives
		}
		openIdx += s.scanFrom

		bodyStart := openIdx + 3
		if strings.HasPrefix(content[bodyStart:], "json") {
			bodyStart += len("json")
		}
		bodyStart = skipLeadingNewline(content, bodyStart)

		closeIdx := strings.Index(content[bodyStart:], "```")
		if closeIdx == -1 {
			// Unclosed fence: wait for more tokens before consuming it.
			return directives
		}
		closeIdx += bodyStart

		block := strings.TrimSpace(content[bodyStart:closeIdx])
		s.scanFrom = closeIdx + 3

		var candidate directiveCandidate
		if err := json.Unmarshal([]byte(block), &candidate); err != nil {
			continue
		}
		if candidate.Type != directiveType || candidate.ServerName == "" || candidate.ToolName == "" {
			continue
		}
		directives = append(directives, Directive{
			ServerName: candidate.ServerName,
			ToolName:   candidate.ToolName,
			Arguments:  candidate.Arguments,
		})
	}
}

func skipLeadingNewline(s string, idx int) int {
	if idx < len(s) && s[idx] == '\r' {
		idx++
	}
	if idx < len(s) && s[idx] == '\n' {
		idx++
	}
	return idx
}
