package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawd/internal/audit"
	"github.com/nextlevelbuilder/clawd/internal/permissions"
	"github.com/nextlevelbuilder/clawd/internal/ratelimit"
)

// mockTool lets each test shape execution behavior.
type mockTool struct {
	name string
	tier permissions.Tier
	exec func(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error)
}

func (m *mockTool) Name() string           { return m.name }
func (m *mockTool) Description() string    { return "mock tool" }
func (m *mockTool) Tier() permissions.Tier { return m.tier }
func (m *mockTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (m *mockTool) Execute(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
	return m.exec(ctx, ec, input)
}

func newTestDispatcher(t *testing.T, timeout time.Duration, list ...Tool) (*Dispatcher, string) {
	t.Helper()
	registry, err := NewRegistry(list...)
	if err != nil {
		t.Fatal(err)
	}
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	auditLog, err := audit.New(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditLog.Close() })
	return NewDispatcher(registry, permissions.NewEngine(), auditLog, nil, timeout), auditPath
}

func countAuditLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}
	defer f.Close()
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count
}

func okTool(name string) *mockTool {
	return &mockTool{
		name: name,
		tier: permissions.TierRead,
		exec: func(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
			return OK(map[string]string{"status": "done"}), nil
		},
	}
}

func TestDispatcher_HappyPath(t *testing.T) {
	d, auditPath := newTestDispatcher(t, time.Second, okTool("echo"))

	result, err := d.Dispatch(context.Background(), "default:alice", "echo", json.RawMessage(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.Success {
		t.Errorf("result not successful: %+v", result)
	}

	d.DrainAudit()
	if n := countAuditLines(t, auditPath); n != 1 {
		t.Errorf("audit lines = %d, want 1", n)
	}
}

func TestDispatcher_UnknownToolAudited(t *testing.T) {
	d, auditPath := newTestDispatcher(t, time.Second, okTool("echo"))

	_, err := d.Dispatch(context.Background(), "default:alice", "missing", json.RawMessage(`{}`))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Dispatch of unknown tool = %v, want ValidationError", err)
	}

	d.DrainAudit()
	if n := countAuditLines(t, auditPath); n != 1 {
		t.Errorf("audit lines = %d, want 1", n)
	}
}

func TestDispatcher_InputValidation(t *testing.T) {
	d, auditPath := newTestDispatcher(t, time.Second, okTool("echo"))

	tests := []struct {
		name  string
		input json.RawMessage
	}{
		{"nil input", nil},
		{"null input", json.RawMessage(`null`)},
		{"bad json", json.RawMessage(`{`)},
		{"oversized", json.RawMessage(`{"pad":"` + strings.Repeat("x", MaxInputSize) + `"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), "default:alice", "echo", tt.input)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Dispatch = %v, want ValidationError", err)
			}
		})
	}

	d.DrainAudit()
	if n := countAuditLines(t, auditPath); n != len(tests) {
		t.Errorf("audit lines = %d, want %d (one per dispatch)", n, len(tests))
	}
}

func TestDispatcher_PermissionDeny(t *testing.T) {
	d, auditPath := newTestDispatcher(t, time.Second, okTool("echo"))

	_, err := d.Dispatch(context.Background(), "default:alice", "echo", json.RawMessage(`{"message":"sudo rm -rf /"}`))
	var pd *PermissionDeniedError
	if !errors.As(err, &pd) {
		t.Fatalf("Dispatch = %v, want PermissionDeniedError", err)
	}

	d.DrainAudit()
	if n := countAuditLines(t, auditPath); n != 1 {
		t.Errorf("audit lines = %d, want 1", n)
	}
}

func TestDispatcher_SystemCriticalRequiresApproval(t *testing.T) {
	tool := okTool("sys.power")
	tool.tier = permissions.TierSystemCritical
	d, _ := newTestDispatcher(t, time.Second, tool)

	result, err := d.Dispatch(context.Background(), "default:alice", "sys.power", json.RawMessage(`{"op":"status"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Success {
		t.Error("system-critical call succeeded without approval")
	}
	var output map[string]any
	if err := json.Unmarshal(result.Output, &output); err != nil {
		t.Fatal(err)
	}
	if output["approval_required"] != true {
		t.Errorf("output missing approval_required: %v", output)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	slow := &mockTool{
		name: "slow",
		tier: permissions.TierRead,
		exec: func(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
			select {
			case <-time.After(10 * time.Second):
				return OK("late"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	d, auditPath := newTestDispatcher(t, 100*time.Millisecond, slow)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), "default:alice", "slow", json.RawMessage(`{}`))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Dispatch = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v, deadline not enforced", elapsed)
	}

	d.DrainAudit()
	if n := countAuditLines(t, auditPath); n != 1 {
		t.Errorf("audit lines = %d, want 1", n)
	}
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	panicky := &mockTool{
		name: "panicky",
		tier: permissions.TierRead,
		exec: func(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
			panic("tool bug")
		},
	}
	d, auditPath := newTestDispatcher(t, time.Second, panicky)

	_, err := d.Dispatch(context.Background(), "default:alice", "panicky", json.RawMessage(`{}`))
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Dispatch = %v, want ErrInternal", err)
	}

	d.DrainAudit()
	if n := countAuditLines(t, auditPath); n != 1 {
		t.Errorf("audit lines = %d, want 1", n)
	}
}

func TestDispatcher_FreshExecutionContextRefs(t *testing.T) {
	var refs []string
	capture := &mockTool{
		name: "capture",
		tier: permissions.TierRead,
		exec: func(ctx context.Context, ec ExecutionContext, input json.RawMessage) (*Result, error) {
			refs = append(refs, ec.AuditRef, ec.PermissionRef)
			return OK("ok"), nil
		},
	}
	d, _ := newTestDispatcher(t, time.Second, capture)

	for i := 0; i < 2; i++ {
		if _, err := d.Dispatch(context.Background(), "default:alice", "capture", json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	for _, ref := range refs {
		if ref == "" {
			t.Error("empty execution ref")
		}
		if seen[ref] {
			t.Errorf("ref %q reused across dispatches", ref)
		}
		seen[ref] = true
	}
}

func TestDispatcher_RateLimited(t *testing.T) {
	registry, err := NewRegistry(okTool("echo"))
	if err != nil {
		t.Fatal(err)
	}
	auditLog, err := audit.New(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer auditLog.Close()

	limiter := ratelimit.New(
		ratelimit.Config{MaxRequests: 1, Window: time.Minute},
		ratelimit.Config{MaxRequests: 100, Window: time.Minute},
		ratelimit.Config{MaxRequests: 100, Window: time.Minute},
	)
	d := NewDispatcher(registry, permissions.NewEngine(), auditLog, limiter, time.Second)

	if _, err := d.Dispatch(context.Background(), "default:alice", "echo", json.RawMessage(`{"message":"x"}`)); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := d.Dispatch(context.Background(), "default:alice", "echo", json.RawMessage(`{"message":"x"}`)); err == nil {
		t.Error("second dispatch passed an exhausted session bucket")
	}
	d.DrainAudit()
}
