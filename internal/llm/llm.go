// Package llm is the client stack for the enrichment service: a small
// client interface, a Gemini-backed implementation, a deterministic fake,
// and composable middleware for rate limiting, retries and logging.
package llm

import (
	"context"
	"encoding/json"
)

// Client is the enrichment-service client. GenerateJSON sends a prompt plus
// a JSON-serialized input and returns the raw response payload. Responses
// are advisory; callers must tolerate errors, timeouts and malformed output.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}
