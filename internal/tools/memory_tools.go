package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nextlevelbuilder/clawd/internal/memory"
	"github.com/nextlevelbuilder/clawd/internal/permissions"
	"github.com/nextlevelbuilder/clawd/internal/sessions"
)

// agentFromSession extracts the agent component from the execution
// context's session key for memory scoping.
func agentFromSession(ec ExecutionContext) string {
	if agentID, _, ok := sessions.ParseKey(ec.SessionKey); ok {
		return agentID
	}
	return ec.SessionKey
}

func keySchema(required ...string) map[string]any {
	props := map[string]any{
		"key": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// MemorySetTool persists a note under a key.
type MemorySetTool struct{ store *memory.Store }

func NewMemorySetTool(store *memory.Store) *MemorySetTool { return &MemorySetTool{store: store} }

func (t *MemorySetTool) Name() string           { return "memory.set" }
func (t *MemorySetTool) Description() string    { return "Store a value in persistent memory" }
func (t *MemorySetTool) Tier() permissions.Tier { return permissions.TierWrite }

func (t *MemorySetTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string"},
			"value": map[string]any{"type": "string"},
		},
		"required":             []string{"key", "value"},
		"additionalProperties": false,
	}
}

func (t *MemorySetTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	if args.Key == "" {
		return Fail("key is required"), nil
	}
	if err := t.store.Set(agentFromSession(ec), args.Key, args.Value); err != nil {
		return Fail(err.Error()), nil
	}
	return OK(map[string]string{"stored": args.Key}), nil
}

// MemoryGetTool fetches a note by key.
type MemoryGetTool struct{ store *memory.Store }

func NewMemoryGetTool(store *memory.Store) *MemoryGetTool { return &MemoryGetTool{store: store} }

func (t *MemoryGetTool) Name() string           { return "memory.get" }
func (t *MemoryGetTool) Description() string    { return "Fetch a value from persistent memory" }
func (t *MemoryGetTool) Tier() permissions.Tier { return permissions.TierRead }
func (t *MemoryGetTool) Schema() map[string]any { return keySchema("key") }

func (t *MemoryGetTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	value, err := t.store.Get(agentFromSession(ec), args.Key)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return Fail("not found: " + args.Key), nil
		}
		return Fail(err.Error()), nil
	}
	return OK(map[string]string{"key": args.Key, "value": value}), nil
}

// MemoryDeleteTool removes a note.
type MemoryDeleteTool struct{ store *memory.Store }

func NewMemoryDeleteTool(store *memory.Store) *MemoryDeleteTool {
	return &MemoryDeleteTool{store: store}
}

func (t *MemoryDeleteTool) Name() string           { return "memory.delete" }
func (t *MemoryDeleteTool) Description() string    { return "Delete a value from persistent memory" }
func (t *MemoryDeleteTool) Tier() permissions.Tier { return permissions.TierWrite }
func (t *MemoryDeleteTool) Schema() map[string]any { return keySchema("key") }

func (t *MemoryDeleteTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	if err := t.store.Delete(agentFromSession(ec), args.Key); err != nil {
		return Fail(err.Error()), nil
	}
	return OK(map[string]string{"deleted": args.Key}), nil
}
