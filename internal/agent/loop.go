// Package agent holds the core execution loop: the state machine that
// couples session persistence, locking, compaction, the provider call,
// and tool dispatch into one serialized run per session.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/clawd/internal/audit"
	"github.com/nextlevelbuilder/clawd/internal/locks"
	"github.com/nextlevelbuilder/clawd/internal/providers"
	"github.com/nextlevelbuilder/clawd/internal/sessions"
	"github.com/nextlevelbuilder/clawd/internal/tools"
	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// Trip thresholds. Three identical (tool, input) calls in a row abort
// the run as a repetition loop; four consecutive tool failures abort it
// as hopeless.
const (
	maxSameSignature       = 3
	maxConsecutiveFailures = 4
)

// actionTokens are the lowercase substrings in a user message that
// imply an OS side effect and therefore demand at least one successful
// tool call before a final answer is accepted.
var actionTokens = []string{
	"create", "delete", "remove", "move", "copy", "read", "write", "list",
	"open", "launch", "change", "set", "switch", "workspace", "focus",
	"close", "lock", "unlock", "wallpaper", "send", "reply", "email",
	"volume", "music", "spawn", "start", "stop", "kill", "run", "execute",
	"build", "install", "shutdown", "reboot",
}

// Loop is the per-session agent execution loop.
type Loop struct {
	sessions   *sessions.Store
	locks      *locks.Manager
	dispatcher *tools.Dispatcher
	registry   *tools.Registry
	client     providers.Client
	compactor  *Compactor
	audit      *audit.Logger

	maxIterations atomic.Int64
}

// NewLoop wires the loop. maxIterations below 1 is clamped to 1.
func NewLoop(
	sessionStore *sessions.Store,
	lockManager *locks.Manager,
	dispatcher *tools.Dispatcher,
	registry *tools.Registry,
	client providers.Client,
	compactor *Compactor,
	auditLog *audit.Logger,
	maxIterations int,
) *Loop {
	l := &Loop{
		sessions:   sessionStore,
		locks:      lockManager,
		dispatcher: dispatcher,
		registry:   registry,
		client:     client,
		compactor:  compactor,
		audit:      auditLog,
	}
	l.SetMaxIterations(maxIterations)
	return l
}

// SetMaxIterations updates the iteration budget at runtime.
func (l *Loop) SetMaxIterations(n int) {
	if n < 1 {
		n = 1
	}
	l.maxIterations.Store(int64(n))
}

// MaxIterations returns the current iteration budget.
func (l *Loop) MaxIterations() int {
	return int(l.maxIterations.Load())
}

// SetModel switches the provider's active model.
func (l *Loop) SetModel(model string) { l.client.SetModel(model) }

// CurrentModel returns the provider's active model.
func (l *Loop) CurrentModel() string { return l.client.CurrentModel() }

// ListModels lists the provider's models.
func (l *Loop) ListModels(ctx context.Context) ([]string, error) {
	return l.client.ListModels(ctx)
}

// Run executes the agent loop for one user message. The session lock is
// held for the whole run and released on every exit path, panics
// included.
func (l *Loop) Run(ctx context.Context, sessionKey, agentID, systemPrompt, userMessage string, toolNames []string) (string, error) {
	ctx, span := otel.Tracer("clawd/agent").Start(ctx, "agent.run")
	span.SetAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("session.key", sessionKey),
	)
	defer span.End()

	slog.Info("acquiring session lock", "session", sessionKey)
	handle, err := l.locks.Acquire(sessionKey)
	if err != nil {
		return "", protocol.WrapError(protocol.KindLock, "acquire session lock", err)
	}
	defer handle.Release()

	return l.runLocked(ctx, sessionKey, agentID, systemPrompt, userMessage, toolNames)
}

func (l *Loop) runLocked(ctx context.Context, sessionKey, agentID, systemPrompt, userMessage string, toolNames []string) (string, error) {
	slog.Debug("loading session", "session", sessionKey)
	messages, err := l.sessions.Load(sessionKey)
	if err != nil {
		return "", protocol.WrapError(protocol.KindSession, "load session", err)
	}

	messages, err = l.compactor.Compact(ctx, messages)
	if err != nil {
		return "", err
	}

	messages = append(messages, protocol.NewMessage(protocol.RoleUser, userMessage))

	toolSchemas := l.registry.Schemas(toolNames)
	if len(toolSchemas) == 0 {
		slog.Warn("no tools available", "agent", agentID)
		return "", protocol.Errorf(protocol.KindLLM,
			"agent has no tools registered, cannot execute OS operations")
	}
	slog.Info("agent run starting", "agent", agentID, "tools", len(toolSchemas))

	final, err := l.iterate(ctx, sessionKey, systemPrompt, userMessage, &messages, toolSchemas)
	if err != nil {
		return "", err
	}

	messages = append(messages, protocol.NewMessage(protocol.RoleAssistant, final))

	slog.Debug("saving session", "session", sessionKey, "messages", len(messages))
	if err := l.sessions.Save(sessionKey, messages); err != nil {
		return "", protocol.WrapError(protocol.KindSession, "save session", err)
	}

	return final, nil
}

// iterate drives the provider ↔ tool cycle until a final response, the
// iteration budget, or a fatal counter trip.
func (l *Loop) iterate(ctx context.Context, sessionKey, systemPrompt, userMessage string, messages *[]protocol.Message, toolSchemas []map[string]any) (string, error) {
	reinforced := reinforcePrompt(systemPrompt, toolSchemas)
	actionRequiresTool := requiresToolCall(userMessage)

	var (
		sawToolCall             bool
		successfulToolCalls     int
		toolCallCount           int
		lastToolError           string
		lastToolSignature       string
		sameSignatureCount      int
		consecutiveToolFailures int
	)
	maxIterations := l.MaxIterations()

	for iteration := 0; iteration < maxIterations; iteration++ {
		slog.Debug("loop iteration", "iteration", iteration+1, "max", maxIterations,
			"messages", len(*messages))

		ctx, llmSpan := otel.Tracer("clawd/agent").Start(ctx, "llm.call")
		resp, err := l.client.Call(ctx, reinforced, *messages, toolSchemas)
		llmSpan.End()
		if err != nil {
			slog.Error("LLM call failed", "error", err)
			return "", protocol.WrapError(protocol.KindLLM, "provider call", err)
		}

		if resp.Type == protocol.ResponseFinal {
			if actionRequiresTool && !sawToolCall {
				return "", protocol.Errorf(protocol.KindTool,
					"tool invocation required but not performed")
			}
			if actionRequiresTool && successfulToolCalls == 0 {
				return "", protocol.Errorf(protocol.KindTool,
					"action requested, but no tool call completed successfully")
			}
			slog.Info("final response", "iterations", iteration+1)
			return resp.Content, nil
		}

		// Tool call path.
		sawToolCall = true
		toolCallCount++

		signature := resp.ToolName + ":" + canonicalInput(resp.Input)
		if signature == lastToolSignature {
			sameSignatureCount++
		} else {
			sameSignatureCount = 1
			lastToolSignature = signature
		}

		slog.Info("tool call requested", "tool", resp.ToolName)
		*messages = append(*messages, protocol.NewMessageWithMetadata(
			protocol.RoleAssistant,
			"Calling tool: "+resp.ToolName,
			map[string]any{
				"tool_call": true,
				"tool_name": resp.ToolName,
				"input":     json.RawMessage(resp.Input),
			},
		))

		result, dispatchErr := l.dispatcher.Dispatch(ctx, sessionKey, resp.ToolName, resp.Input)

		toolFailed := false
		var resultDoc any
		switch {
		case dispatchErr != nil:
			toolFailed = true
			lastToolError = dispatchErr.Error()
			slog.Warn("tool execution failed", "tool", resp.ToolName, "error", dispatchErr)
			resultDoc = map[string]string{"error": dispatchErr.Error()}
		case result != nil && !result.Success:
			toolFailed = true
			lastToolError = result.Error
			resultDoc = result
		default:
			resultDoc = result
		}

		if toolFailed {
			consecutiveToolFailures++
		} else {
			consecutiveToolFailures = 0
			successfulToolCalls++
			lastToolError = ""
		}
		if consecutiveToolFailures >= maxConsecutiveFailures {
			return "", protocol.Errorf(protocol.KindTool,
				"too many consecutive tool failures, halting this run")
		}

		*messages = append(*messages, protocol.NewMessageWithMetadata(
			protocol.RoleTool,
			resultDoc,
			map[string]any{"tool_name": resp.ToolName},
		))

		if sameSignatureCount >= maxSameSignature {
			l.auditLoopTrip(sessionKey, resp.ToolName, resp.Input)
			return "", protocol.Errorf(protocol.KindTool,
				"detected repetitive tool loop for %q with identical input, aborting", resp.ToolName)
		}
	}

	// Budget exhausted without a final response.
	if sawToolCall {
		summary := fmt.Sprintf(
			"max iterations (%d) reached after %d tool calls (successful: %d)",
			maxIterations, toolCallCount, successfulToolCalls)
		if lastToolError != "" {
			summary += ", last tool error: " + lastToolError
		}
		return "", protocol.Errorf(protocol.KindLLM, "%s", summary)
	}
	return "", protocol.Errorf(protocol.KindLLM,
		"max iterations (%d) exceeded without final response", maxIterations)
}

// auditLoopTrip records the repetition-loop abort in the audit log so
// the trip itself is visible alongside the tool entries it follows.
func (l *Loop) auditLoopTrip(sessionKey, toolName string, input json.RawMessage) {
	if l.audit == nil {
		return
	}
	result, _ := json.Marshal(map[string]string{"error": "repetitive tool loop detected"})
	entry := audit.Entry{
		Timestamp: nowRFC3339(),
		Session:   sessionKey,
		Tool:      toolName,
		Input:     input,
		Result:    result,
		Approval:  "DENY",
	}
	if err := l.audit.Log(entry); err != nil {
		slog.Error("audit log write failed", "tool", toolName, "error", err)
	}
}

// reinforcePrompt appends the tool-use clause and the available tool
// names to the agent's soul.
func reinforcePrompt(systemPrompt string, toolSchemas []map[string]any) string {
	names := make([]string, 0, len(toolSchemas))
	for _, schema := range toolSchemas {
		if fn, ok := schema["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return fmt.Sprintf(
		"%s\n\nYou are a local autonomous Linux agent. You MUST use tools to perform file, process, or system operations. Do not describe actions — call the appropriate tool.\n\nAvailable tools: %s",
		systemPrompt, strings.Join(names, ", "))
}

// requiresToolCall reports whether the user message contains an action
// token.
func requiresToolCall(userMessage string) bool {
	lower := strings.ToLower(userMessage)
	for _, token := range actionTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// canonicalInput compacts the raw input for signature comparison.
func canonicalInput(input json.RawMessage) string {
	var buf strings.Builder
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return string(input)
	}
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return string(input)
	}
	return strings.TrimSpace(buf.String())
}
