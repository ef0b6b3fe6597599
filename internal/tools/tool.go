// Package tools defines the tool capability surface: the Tool
// interface, the immutable registry, and the dispatcher that runs
// every invocation through permission checks, a deadline, and the
// audit log.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawd/internal/permissions"
)

// Tool is one capability the agent can invoke. Implementations must be
// safe for concurrent use; the dispatcher may run them from multiple
// sessions at once.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the tool's JSON schema for its input object.
	Schema() map[string]any
	// Tier is the permission class the tool's author assigned.
	Tier() permissions.Tier
	Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error)
}

// Result is the unified return value from tool execution.
type Result struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OK builds a successful result. output is marshalled to JSON.
func OK(output any) *Result {
	raw, err := json.Marshal(output)
	if err != nil {
		return Fail("serialize output: " + err.Error())
	}
	return &Result{Success: true, Output: raw}
}

// Fail builds a failed result with an error message.
func Fail(msg string) *Result {
	return &Result{Success: false, Error: msg}
}

// ExecutionContext is passed by value into every tool invocation. The
// audit and permission refs are fresh UUIDs per dispatch so an
// adversarial tool cannot correlate calls across sessions.
type ExecutionContext struct {
	SessionKey    string
	Timeout       time.Duration
	AuditRef      string
	PermissionRef string
}

// NewExecutionContext builds a context with fresh refs.
func NewExecutionContext(sessionKey string, timeout time.Duration) ExecutionContext {
	return ExecutionContext{
		SessionKey:    sessionKey,
		Timeout:       timeout,
		AuditRef:      uuid.NewString(),
		PermissionRef: uuid.NewString(),
	}
}
