// ABOUTME: Renders tool results into prompt-ready text.
// ABOUTME: Supports markdown, plain text, JSON, and HTML output.

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Context formats accepted by BuildToolContext.
const (
	FormatMarkdown = "markdown"
	FormatPlain    = "plain"
	FormatJSON     = "json"
	FormatHTML     = "html"
)

// BuildToolContext renders a batch of tool results as a single block of
// text for injection into an AI prompt. Unknown formats fall back to
// markdown. An empty batch renders as an empty string.
func (s *Service) BuildToolContext(results []ToolResult, format string) string {
	if len(results) == 0 {
		return ""
	}

	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			s.logger.Error("encoding tool results failed", "error", err)
			return ""
		}
		return string(b)

	case FormatPlain:
		var sb strings.Builder
		for _, r := range results {
			if r.Success {
				fmt.Fprintf(&sb, "[%s] %s\n", r.ToolName, renderResult(r.Result))
			} else {
				fmt.Fprintf(&sb, "[%s] error: %s\n", r.ToolName, r.Error)
			}
		}
		return strings.TrimRight(sb.String(), "\n")

	case FormatHTML:
		md := s.buildMarkdown(results)
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(md), &buf); err != nil {
			s.logger.Error("rendering tool results to HTML failed", "error", err)
			return ""
		}
		return buf.String()

	default:
		return s.buildMarkdown(results)
	}
}

func (s *Service) buildMarkdown(results []ToolResult) string {
	var sb strings.Builder
	sb.WriteString("## Tool Results\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "\n### %s\n\n", r.ToolName)
		if !r.Success {
			fmt.Fprintf(&sb, "Error: %s\n", r.Error)
			continue
		}
		switch v := r.Result.(type) {
		case string:
			sb.WriteString(v)
			sb.WriteString("\n")
		default:
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				fmt.Fprintf(&sb, "%v\n", v)
				continue
			}
			fmt.Fprintf(&sb, "```json\n%s\n```\n", b)
		}
	}
	return sb.String()
}

// renderResult flattens a result value to one line of plain text.
func renderResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
