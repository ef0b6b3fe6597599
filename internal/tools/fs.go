package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawd/internal/permissions"
	"github.com/nextlevelbuilder/clawd/internal/sandbox"
)

// maxListEntries caps directory listings regardless of actual count.
const maxListEntries = 1000

func pathSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

func srcDestSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source":      map[string]any{"type": "string"},
			"destination": map[string]any{"type": "string"},
		},
		"required":             []string{"source", "destination"},
		"additionalProperties": false,
	}
}

type pathArgs struct {
	Path string `json:"path"`
}

type srcDestArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// FsReadTool reads a file inside the sandbox.
type FsReadTool struct{ guard *sandbox.PathGuard }

func NewFsReadTool(guard *sandbox.PathGuard) *FsReadTool { return &FsReadTool{guard: guard} }

func (t *FsReadTool) Name() string           { return "fs.read" }
func (t *FsReadTool) Description() string    { return "Read the contents of a file" }
func (t *FsReadTool) Tier() permissions.Tier { return permissions.TierRead }
func (t *FsReadTool) Schema() map[string]any { return pathSchema() }

func (t *FsReadTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args pathArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	resolved, err := t.guard.Validate(args.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Fail("read file: " + err.Error()), nil
	}
	return OK(map[string]string{"path": args.Path, "content": string(data)}), nil
}

// FsWriteTool writes a file inside the sandbox, creating it if needed.
type FsWriteTool struct{ guard *sandbox.PathGuard }

func NewFsWriteTool(guard *sandbox.PathGuard) *FsWriteTool { return &FsWriteTool{guard: guard} }

func (t *FsWriteTool) Name() string           { return "fs.write" }
func (t *FsWriteTool) Description() string    { return "Write content to a file" }
func (t *FsWriteTool) Tier() permissions.Tier { return permissions.TierWrite }

func (t *FsWriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		},
		"required":             []string{"path", "content"},
		"additionalProperties": false,
	}
}

func (t *FsWriteTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	resolved, err := t.guard.ValidateNew(args.Path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(resolved, []byte(args.Content), 0o644); err != nil {
		return Fail("write file: " + err.Error()), nil
	}
	return OK(map[string]any{"path": args.Path, "bytes": len(args.Content)}), nil
}

// FsListTool lists a directory inside the sandbox, capped at
// maxListEntries entries.
type FsListTool struct{ guard *sandbox.PathGuard }

func NewFsListTool(guard *sandbox.PathGuard) *FsListTool { return &FsListTool{guard: guard} }

func (t *FsListTool) Name() string           { return "fs.list" }
func (t *FsListTool) Description() string    { return "List directory entries" }
func (t *FsListTool) Tier() permissions.Tier { return permissions.TierRead }
func (t *FsListTool) Schema() map[string]any { return pathSchema() }

func (t *FsListTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args pathArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	resolved, err := t.guard.Validate(args.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Fail("list directory: " + err.Error()), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(names) >= maxListEntries {
			break
		}
		names = append(names, e.Name())
	}
	return OK(map[string]any{"path": args.Path, "entries": names}), nil
}

// FsCreateDirTool creates a directory (and parents) inside the sandbox.
type FsCreateDirTool struct{ guard *sandbox.PathGuard }

func NewFsCreateDirTool(guard *sandbox.PathGuard) *FsCreateDirTool {
	return &FsCreateDirTool{guard: guard}
}

func (t *FsCreateDirTool) Name() string           { return "fs.create_dir" }
func (t *FsCreateDirTool) Description() string    { return "Create a directory" }
func (t *FsCreateDirTool) Tier() permissions.Tier { return permissions.TierWrite }
func (t *FsCreateDirTool) Schema() map[string]any { return pathSchema() }

func (t *FsCreateDirTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args pathArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	resolved, err := t.guard.ValidateNew(args.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return Fail("create directory: " + err.Error()), nil
	}
	return OK(map[string]string{"created": args.Path}), nil
}

// FsDeleteTool removes a file or empty directory inside the sandbox.
type FsDeleteTool struct{ guard *sandbox.PathGuard }

func NewFsDeleteTool(guard *sandbox.PathGuard) *FsDeleteTool { return &FsDeleteTool{guard: guard} }

func (t *FsDeleteTool) Name() string           { return "fs.delete" }
func (t *FsDeleteTool) Description() string    { return "Delete a file or empty directory" }
func (t *FsDeleteTool) Tier() permissions.Tier { return permissions.TierWrite }
func (t *FsDeleteTool) Schema() map[string]any { return pathSchema() }

func (t *FsDeleteTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args pathArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	resolved, err := t.guard.Validate(args.Path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(resolved); err != nil {
		return Fail("delete: " + err.Error()), nil
	}
	return OK(map[string]string{"deleted": args.Path}), nil
}

// FsMoveTool renames a file within the sandbox.
type FsMoveTool struct{ guard *sandbox.PathGuard }

func NewFsMoveTool(guard *sandbox.PathGuard) *FsMoveTool { return &FsMoveTool{guard: guard} }

func (t *FsMoveTool) Name() string           { return "fs.move" }
func (t *FsMoveTool) Description() string    { return "Move or rename a file" }
func (t *FsMoveTool) Tier() permissions.Tier { return permissions.TierWrite }
func (t *FsMoveTool) Schema() map[string]any { return srcDestSchema() }

func (t *FsMoveTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args srcDestArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	src, err := t.guard.Validate(args.Source)
	if err != nil {
		return nil, err
	}
	dst, err := t.guard.ValidateNew(args.Destination)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(src, dst); err != nil {
		return Fail("move: " + err.Error()), nil
	}
	return OK(map[string]string{"from": args.Source, "to": args.Destination}), nil
}

// FsCopyTool copies a regular file within the sandbox.
type FsCopyTool struct{ guard *sandbox.PathGuard }

func NewFsCopyTool(guard *sandbox.PathGuard) *FsCopyTool { return &FsCopyTool{guard: guard} }

func (t *FsCopyTool) Name() string           { return "fs.copy" }
func (t *FsCopyTool) Description() string    { return "Copy a file" }
func (t *FsCopyTool) Tier() permissions.Tier { return permissions.TierWrite }
func (t *FsCopyTool) Schema() map[string]any { return srcDestSchema() }

func (t *FsCopyTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	var args srcDestArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	src, err := t.guard.Validate(args.Source)
	if err != nil {
		return nil, err
	}
	dst, err := t.guard.ValidateNew(args.Destination)
	if err != nil {
		return nil, err
	}
	if err := copyFile(src, dst); err != nil {
		return Fail("copy: " + err.Error()), nil
	}
	return OK(map[string]string{"from": args.Source, "to": args.Destination}), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", filepath.Base(src))
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
