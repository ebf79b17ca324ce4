// Package llm provides clients for the generative model providers.
package llm

import (
	"context"
	"strings"
)

// Client defines the interface for LLM providers.
type Client interface {
	// Complete sends a single prompt and returns the model's text.
	Complete(ctx context.Context, req Request) (Response, error)

	// Provider returns the provider name, e.g. "openai".
	Provider() string
}

// Request is a single-turn completion request.
type Request struct {
	// System is an optional system instruction.
	System string

	// Prompt is the user message.
	Prompt string

	// JSON asks the provider for a strict JSON object response.
	JSON bool
}

// Response contains the model output.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// cleanMarkdownWrapper strips a ```json fenced block some models wrap
// around JSON output even when asked not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```JSON")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	return content
}

// CleanJSON returns content with surrounding markdown fences removed.
func CleanJSON(content string) string {
	return cleanMarkdownWrapper(content)
}
