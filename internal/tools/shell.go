package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/nextlevelbuilder/clawd/internal/permissions"
	"github.com/nextlevelbuilder/clawd/internal/sandbox"
)

// maxShellPayload caps the serialized size of a shell.run input.
const maxShellPayload = 2 * 1024 * 1024

// ShellRunTool executes a whitelisted command as an argv vector — never
// through a shell — and returns captured output. Every vector goes
// through the command guard first.
type ShellRunTool struct {
	workDir string
}

func NewShellRunTool(workDir string) *ShellRunTool {
	return &ShellRunTool{workDir: workDir}
}

func (t *ShellRunTool) Name() string           { return "shell.run" }
func (t *ShellRunTool) Description() string    { return "Run a whitelisted command and return its output" }
func (t *ShellRunTool) Tier() permissions.Tier { return permissions.TierExecute }

func (t *ShellRunTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"argv": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"argv"},
		"additionalProperties": false,
	}
}

func (t *ShellRunTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	if len(input) > maxShellPayload {
		return Fail(fmt.Sprintf("payload exceeds %d bytes", maxShellPayload)), nil
	}
	var args struct {
		Argv []string `json:"argv"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Fail("invalid input: " + err.Error()), nil
	}
	if len(args.Argv) == 0 {
		return Fail("argv must not be empty"), nil
	}

	if err := sandbox.ValidateCommand(args.Argv); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, args.Argv[0], args.Argv[1:]...)
	cmd.Dir = t.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Fail("run: " + err.Error()), nil
		}
	}

	out := map[string]any{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	}
	if exitCode != 0 {
		res := OK(out)
		res.Success = false
		res.Error = fmt.Sprintf("exit code %d", exitCode)
		return res, nil
	}
	return OK(out), nil
}
