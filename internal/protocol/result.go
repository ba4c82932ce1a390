package protocol

import (
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Result is a successful tool invocation.
type Result struct {
	// RequestID is the correlation id the call was sent with.
	RequestID string

	// Content holds the result blocks in server order.
	Content []mcp.Content

	// StructuredContent is the optional structured result.
	StructuredContent any
}

// Text returns the first text block, or "" when there is none.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}

	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}

	return ""
}

// Texts returns every text block in order.
func (r *Result) Texts() []string {
	if r == nil {
		return nil
	}

	texts := make([]string, 0, len(r.Content))

	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return texts
}

// contentText joins the text blocks of an error result.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))

	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	return strings.Join(parts, "\n")
}
