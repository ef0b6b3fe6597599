// Package providers abstracts remote language-model backends. Every
// backend, whatever its wire format, returns the normalized
// protocol.LLMResponse union; retries and the circuit breaker live
// here so the agent loop never sees transient network noise.
package providers

import (
	"context"

	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// Client is the interface the agent loop drives.
type Client interface {
	// Call sends the system prompt, history, and tool schemas and
	// returns a normalized response.
	Call(ctx context.Context, systemPrompt string, messages []protocol.Message, toolSchemas []map[string]any) (*protocol.LLMResponse, error)

	// ListModels returns the models the backend offers.
	ListModels(ctx context.Context) ([]string, error)

	// SetModel switches the active model.
	SetModel(model string)

	// CurrentModel returns the active model name.
	CurrentModel() string
}
