package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/clawd/internal/permissions"
)

// maxEchoPayload caps the serialized size of an echo input.
const maxEchoPayload = 2 * 1024 * 1024

// EchoTool returns its input message. Mostly useful as a liveness probe
// and in tests, but it still enforces a payload ceiling.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string           { return "echo" }
func (t *EchoTool) Description() string    { return "Echo a message back" }
func (t *EchoTool) Tier() permissions.Tier { return permissions.TierRead }

func (t *EchoTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required":             []string{"message"},
		"additionalProperties": false,
	}
}

func (t *EchoTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	if len(input) > maxEchoPayload {
		return Fail(fmt.Sprintf("payload exceeds %d bytes", maxEchoPayload)), nil
	}
	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	return OK(map[string]string{"message": args.Message}), nil
}
