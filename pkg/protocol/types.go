// Package protocol defines the wire types shared by the runtime, the
// session store, and provider backends: conversation messages, the
// normalized LLM response union, and the runtime error taxonomy.
package protocol

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the message/response schema version for this build.
// A provider response carrying a different version fails validation; a
// persisted session line carrying a different version is skipped on load.
// Version 0 (data written before versioning) is accepted by both checks.
const SchemaVersion uint32 = 1

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Message is a single conversation message. Messages are immutable once
// appended to a session. Metadata carries structured facts about tool
// calls (name, input, result) without polluting Content.
type Message struct {
	SchemaVersion uint32          `json:"schema_version"`
	Role          string          `json:"role"`
	Content       json.RawMessage `json:"content"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// NewMessage builds a message with the current schema version. content
// is marshalled to JSON; a marshal failure falls back to a JSON string
// of the value's default formatting.
func NewMessage(role string, content any) Message {
	raw, err := json.Marshal(content)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("%v", content))
	}
	return Message{SchemaVersion: SchemaVersion, Role: role, Content: raw}
}

// NewMessageWithMetadata builds a message carrying structured metadata.
func NewMessageWithMetadata(role string, content, metadata any) Message {
	msg := NewMessage(role, content)
	raw, err := json.Marshal(metadata)
	if err == nil {
		msg.Metadata = raw
	}
	return msg
}

// Text returns the content as plain text when it is a JSON string, or
// the raw JSON otherwise.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return string(m.Content)
}

// ValidateVersion rejects messages written by a different schema.
// Version 0 is treated as the pre-versioning era and accepted as-is.
func (m Message) ValidateVersion() error {
	if m.SchemaVersion != SchemaVersion && m.SchemaVersion != 0 {
		return fmt.Errorf("schema version mismatch: expected %d, got %d", SchemaVersion, m.SchemaVersion)
	}
	return nil
}

// LLMResponse kinds.
const (
	ResponseFinal    = "final"
	ResponseToolCall = "tool_call"
)

// LLMResponse is the normalized response union from any provider
// backend: either a final assistant message or a single tool call.
type LLMResponse struct {
	Type          string          `json:"type"`
	SchemaVersion uint32          `json:"schema_version"`
	Content       string          `json:"content,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	Input         json.RawMessage `json:"input,omitempty"`
}

// Final builds a final-response value.
func Final(content string) *LLMResponse {
	return &LLMResponse{Type: ResponseFinal, SchemaVersion: SchemaVersion, Content: content}
}

// ToolCall builds a tool-call response value.
func ToolCall(toolName string, input json.RawMessage) *LLMResponse {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return &LLMResponse{Type: ResponseToolCall, SchemaVersion: SchemaVersion, ToolName: toolName, Input: input}
}

// Validate enforces the response invariants: known type, matching schema
// version, non-empty content for Final, non-empty tool name for ToolCall.
func (r *LLMResponse) Validate() error {
	if r.SchemaVersion != SchemaVersion && r.SchemaVersion != 0 {
		return fmt.Errorf("schema version mismatch: expected %d, got %d", SchemaVersion, r.SchemaVersion)
	}
	switch r.Type {
	case ResponseFinal:
		if r.Content == "" {
			return fmt.Errorf("final response has empty content")
		}
	case ResponseToolCall:
		if r.ToolName == "" {
			return fmt.Errorf("tool call missing tool_name")
		}
	default:
		return fmt.Errorf("unknown response type: %q", r.Type)
	}
	return nil
}
