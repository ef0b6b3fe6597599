package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/clawd/internal/audit"
	"github.com/nextlevelbuilder/clawd/internal/permissions"
	"github.com/nextlevelbuilder/clawd/internal/ratelimit"
)

// MaxInputSize caps the canonical JSON serialization of a tool input.
const MaxInputSize = 1 * 1024 * 1024

// Dispatcher errors surfaced to the agent loop.
var (
	ErrTimeout  = errors.New("tool execution timed out")
	ErrInternal = errors.New("internal error")
)

// PermissionDeniedError carries the engine's deny reason.
type PermissionDeniedError struct {
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return "permission denied: " + e.Reason
}

// ValidationError reports bad dispatch input (unknown tool, oversized
// or null payload).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Msg
}

// Dispatcher runs every tool invocation through the full pipeline:
// rate limit → lookup → input validation → permission check → timed
// execution on its own goroutine with panic isolation → exactly one
// audit entry regardless of outcome.
type Dispatcher struct {
	registry   *Registry
	permission *permissions.Engine
	audit      *audit.Logger
	limiter    *ratelimit.Limiter
	timeout    time.Duration

	auditWG sync.WaitGroup
}

// NewDispatcher wires the pipeline. limiter may be nil to disable rate
// limiting (tests); audit must not be nil.
func NewDispatcher(registry *Registry, permission *permissions.Engine, auditLog *audit.Logger, limiter *ratelimit.Limiter, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:   registry,
		permission: permission,
		audit:      auditLog,
		limiter:    limiter,
		timeout:    timeout,
	}
}

// Dispatch executes one tool call for a session. Whatever the outcome,
// exactly one audit entry is emitted; audit emission is fire-and-forget
// so a logging failure never fails the user-visible call.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionKey, toolName string, input json.RawMessage) (*Result, error) {
	ctx, span := otel.Tracer("clawd/tools").Start(ctx, "tool.dispatch")
	span.SetAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("session.key", sessionKey),
	)
	defer span.End()

	slog.Debug("dispatching tool", "tool", toolName, "session", sessionKey)

	decision := permissions.DecisionDeny
	var result *Result
	var execErr error

	defer func() {
		d.logAudit(sessionKey, toolName, input, decision, result, execErr)
	}()

	if d.limiter != nil {
		if err := d.limiter.CheckAll(sessionKey, toolName); err != nil {
			execErr = &ValidationError{Msg: err.Error()}
			return nil, execErr
		}
	}

	tool, ok := d.registry.Get(toolName)
	if !ok {
		execErr = &ValidationError{Msg: "tool not found: " + toolName}
		return nil, execErr
	}

	if err := validateInput(input); err != nil {
		execErr = err
		return nil, execErr
	}

	permResult := d.permission.Check(permissions.Request{
		SessionKey: sessionKey,
		ToolName:   toolName,
		Input:      input,
		Tier:       tool.Tier(),
	})
	decision = permResult.Decision

	switch permResult.Decision {
	case permissions.DecisionDeny:
		slog.Warn("permission denied", "tool", toolName, "session", sessionKey, "reason", permResult.Reason)
		execErr = &PermissionDeniedError{Reason: permResult.Reason}
		return nil, execErr
	case permissions.DecisionRequireApproval:
		output, _ := json.Marshal(map[string]any{
			"approval_required": true,
			"message":           permResult.Reason,
		})
		result = &Result{Success: false, Output: output, Error: "approval required"}
		return result, nil
	}

	ec := NewExecutionContext(sessionKey, d.timeout)
	result, execErr = d.executeWithProtection(ctx, tool, ec, input)
	return result, execErr
}

// executeWithProtection runs the tool on its own goroutine so a panic
// cannot take down the runtime, and races it against the deadline.
func (d *Dispatcher) executeWithProtection(ctx context.Context, tool Tool, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}

	execCtx, cancel := context.WithTimeout(ctx, ec.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tool execution panicked", "tool", tool.Name(), "panic", r)
				done <- outcome{nil, ErrInternal}
			}
		}()
		res, err := tool.Execute(execCtx, ec, input)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("tool execution timed out", "tool", tool.Name(), "timeout", ec.Timeout)
			return nil, ErrTimeout
		}
		return nil, execCtx.Err()
	}
}

func validateInput(input json.RawMessage) error {
	if len(input) == 0 || string(input) == "null" {
		return &ValidationError{Msg: "input must not be null"}
	}
	var canonical bytes.Buffer
	if err := json.Compact(&canonical, input); err != nil {
		return &ValidationError{Msg: "input is not valid JSON"}
	}
	if canonical.Len() > MaxInputSize {
		return &ValidationError{Msg: fmt.Sprintf("input exceeds %d bytes", MaxInputSize)}
	}
	return nil
}

// logAudit emits the single per-dispatch audit entry on a background
// goroutine. The log's own integrity is maintained by its hash chain,
// not by back-pressure here.
func (d *Dispatcher) logAudit(sessionKey, toolName string, input json.RawMessage, decision string, result *Result, execErr error) {
	var resultJSON json.RawMessage
	switch {
	case execErr != nil:
		resultJSON, _ = json.Marshal(map[string]string{"error": execErr.Error()})
	case result != nil:
		resultJSON, _ = json.Marshal(result)
	default:
		resultJSON = json.RawMessage(`null`)
	}

	// Invalid input must still audit; record it as a JSON string so the
	// entry itself stays serializable.
	if len(input) == 0 {
		input = json.RawMessage(`null`)
	} else if !json.Valid(input) {
		quoted, _ := json.Marshal(string(input))
		input = quoted
	}

	entry := audit.Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Session:   sessionKey,
		Tool:      toolName,
		Input:     input,
		Result:    resultJSON,
		Approval:  decision,
	}

	d.auditWG.Add(1)
	go func() {
		defer d.auditWG.Done()
		if err := d.audit.Log(entry); err != nil {
			slog.Error("audit log write failed", "tool", toolName, "error", err)
		}
	}()
}

// DrainAudit blocks until all pending audit writes have landed. Used
// on shutdown so the chain is complete before the process exits.
func (d *Dispatcher) DrainAudit() {
	d.auditWG.Wait()
}
