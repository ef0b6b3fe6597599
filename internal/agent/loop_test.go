package agent

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
	"github.com/nextlevelbuilder/clawd/internal/locks"
	"github.com/nextlevelbuilder/clawd/internal/permissions"
	"github.com/nextlevelbuilder/clawd/internal/sessions"
	"github.com/nextlevelbuilder/clawd/internal/tools"
	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// scriptedClient returns a fixed sequence of responses.
type scriptedClient struct {
	responses []*protocol.LLMResponse
	calls     int
	model     string
}

func (c *scriptedClient) Call(ctx context.Context, systemPrompt string, messages []protocol.Message, toolSchemas []map[string]any) (*protocol.LLMResponse, error) {
	if c.calls >= len(c.responses) {
		return nil, errors.New("script exhausted")
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) ListModels(ctx context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}

func (c *scriptedClient) SetModel(model string) { c.model = model }
func (c *scriptedClient) CurrentModel() string  { return c.model }

type nopSummarizer struct{}

func (nopSummarizer) Summarize(ctx context.Context, messages []protocol.Message) (string, error) {
	return "summary", nil
}

// failTool always reports failure.
type failTool struct{}

func (failTool) Name() string                 { return "broken" }
func (failTool) Description() string          { return "always fails" }
func (failTool) Tier() permissions.Tier       { return permissions.TierRead }
func (failTool) Schema() map[string]any       { return map[string]any{"type": "object"} }
func (failTool) Execute(ctx context.Context, ec tools.ExecutionContext, input json.RawMessage) (*tools.Result, error) {
	return tools.Fail("broken on purpose"), nil
}

type loopFixture struct {
	loop       *Loop
	locks      *locks.Manager
	sessions   *sessions.Store
	dispatcher *tools.Dispatcher
	auditPath  string
}

func newLoopFixture(t *testing.T, client *scriptedClient, maxIterations int, extraTools ...tools.Tool) *loopFixture {
	t.Helper()

	sessionStore, err := sessions.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	lockManager := locks.NewManager(time.Second)

	auditPath := filepath.Join(t.TempDir(), "audit.log")
	auditLog, err := audit.New(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditLog.Close() })

	registry, err := tools.NewRegistry(append([]tools.Tool{tools.NewEchoTool()}, extraTools...)...)
	if err != nil {
		t.Fatal(err)
	}
	dispatcher := tools.NewDispatcher(registry, permissions.NewEngine(), auditLog, nil, time.Second)

	compactor := NewCompactor(1_000_000, nopSummarizer{})
	loop := NewLoop(sessionStore, lockManager, dispatcher, registry, client, compactor, auditLog, maxIterations)

	return &loopFixture{
		loop:       loop,
		locks:      lockManager,
		sessions:   sessionStore,
		dispatcher: dispatcher,
		auditPath:  auditPath,
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n
}

func echoCall(message string) *protocol.LLMResponse {
	input, _ := json.Marshal(map[string]string{"message": message})
	return protocol.ToolCall("echo", input)
}

func TestLoop_HappyPath(t *testing.T) {
	client := &scriptedClient{responses: []*protocol.LLMResponse{
		echoCall("hi"),
		protocol.Final("done"),
	}}
	fx := newLoopFixture(t, client, 10)

	got, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "echo hi", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "done" {
		t.Errorf("response = %q, want %q", got, "done")
	}

	// user + assistant tool marker + tool result + assistant final.
	msgs, err := fx.sessions.Load("default:alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("session has %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != protocol.RoleUser || msgs[1].Role != protocol.RoleAssistant ||
		msgs[2].Role != protocol.RoleTool || msgs[3].Role != protocol.RoleAssistant {
		t.Errorf("unexpected role sequence: %s %s %s %s",
			msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role)
	}

	fx.dispatcher.DrainAudit()
	if n := countLines(t, fx.auditPath); n != 1 {
		t.Errorf("audit lines = %d, want 1", n)
	}
	if fx.locks.Held("default:alice") {
		t.Error("lock still held after successful run")
	}
}

func TestLoop_NoToolsRegistered(t *testing.T) {
	client := &scriptedClient{responses: []*protocol.LLMResponse{protocol.Final("hi")}}
	fx := newLoopFixture(t, client, 10)

	// Filter to a tool name that does not exist.
	_, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "hello", []string{"nonexistent"})
	if err == nil {
		t.Fatal("Run succeeded with no tools")
	}
	if protocol.KindOf(err) != protocol.KindLLM {
		t.Errorf("error kind = %s, want llm", protocol.KindOf(err))
	}
	if fx.locks.Held("default:alice") {
		t.Error("lock still held after error")
	}
}

func TestLoop_ActionTokenGuard(t *testing.T) {
	client := &scriptedClient{responses: []*protocol.LLMResponse{
		protocol.Final("I would create that file for you"),
	}}
	fx := newLoopFixture(t, client, 10)

	_, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "create a file named x", nil)
	if err == nil {
		t.Fatal("final without tool call accepted despite action token")
	}
	if protocol.KindOf(err) != protocol.KindTool {
		t.Errorf("error kind = %s, want tool", protocol.KindOf(err))
	}
	if fx.locks.Held("default:alice") {
		t.Error("lock still held after error")
	}
}

func TestLoop_NonActionFinalAccepted(t *testing.T) {
	client := &scriptedClient{responses: []*protocol.LLMResponse{
		protocol.Final("hello there"),
	}}
	fx := newLoopFixture(t, client, 10)

	got, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "hi", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "hello there" {
		t.Errorf("response = %q", got)
	}
}

func TestLoop_RepetitiveToolLoop(t *testing.T) {
	client := &scriptedClient{responses: []*protocol.LLMResponse{
		echoCall("same"),
		echoCall("same"),
		echoCall("same"),
		protocol.Final("never reached"),
	}}
	fx := newLoopFixture(t, client, 10)

	_, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "echo same", nil)
	if err == nil {
		t.Fatal("repetitive loop not detected")
	}
	if !strings.Contains(err.Error(), "repetitive") {
		t.Errorf("error = %v, want repetitive loop", err)
	}
	if client.calls != 3 {
		t.Errorf("provider calls = %d, want 3", client.calls)
	}

	// Three dispatch entries plus the loop-trip entry.
	fx.dispatcher.DrainAudit()
	if n := countLines(t, fx.auditPath); n != 4 {
		t.Errorf("audit lines = %d, want 4", n)
	}
	if fx.locks.Held("default:alice") {
		t.Error("lock still held after error")
	}
}

func TestLoop_VaryingInputNotRepetitive(t *testing.T) {
	client := &scriptedClient{responses: []*protocol.LLMResponse{
		echoCall("one"),
		echoCall("two"),
		echoCall("one"),
		protocol.Final("done"),
	}}
	fx := newLoopFixture(t, client, 10)

	got, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "echo things", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "done" {
		t.Errorf("response = %q", got)
	}
}

func TestLoop_ConsecutiveFailuresTrip(t *testing.T) {
	// Identical inputs would trip the repetition detector at 3 calls,
	// so vary the input to isolate the failure counter.
	calls := make([]*protocol.LLMResponse, 0, 4)
	for i := 0; i < 4; i++ {
		input, _ := json.Marshal(map[string]int{"n": i})
		calls = append(calls, protocol.ToolCall("broken", input))
	}

	client := &scriptedClient{responses: calls}
	fx := newLoopFixture(t, client, 10, failTool{})

	_, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "break it", nil)
	if err == nil {
		t.Fatal("consecutive failures not detected")
	}
	if !strings.Contains(err.Error(), "consecutive tool failures") {
		t.Errorf("error = %v, want consecutive failure trip", err)
	}
	if client.calls != 4 {
		t.Errorf("provider calls = %d, want 4", client.calls)
	}
}

func TestLoop_IterationBudget(t *testing.T) {
	responses := make([]*protocol.LLMResponse, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, echoCall(strings.Repeat("x", i+1)))
	}
	client := &scriptedClient{responses: responses}
	fx := newLoopFixture(t, client, 2)

	_, err := fx.loop.Run(context.Background(), "default:alice", "default", "soul", "echo forever", nil)
	if err == nil {
		t.Fatal("budget exhaustion not reported")
	}
	if !strings.Contains(err.Error(), "max iterations") {
		t.Errorf("error = %v, want max iterations", err)
	}
	if client.calls != 2 {
		t.Errorf("provider calls = %d, want exactly the budget (2)", client.calls)
	}
	if fx.locks.Held("default:alice") {
		t.Error("lock still held after budget exhaustion")
	}
}

func TestLoop_SetMaxIterations(t *testing.T) {
	client := &scriptedClient{}
	fx := newLoopFixture(t, client, 7)

	if got := fx.loop.MaxIterations(); got != 7 {
		t.Errorf("MaxIterations = %d, want 7", got)
	}
	fx.loop.SetMaxIterations(0)
	if got := fx.loop.MaxIterations(); got != 1 {
		t.Errorf("MaxIterations after clamp = %d, want 1", got)
	}
}

func TestLoop_SerializesSameSession(t *testing.T) {
	client := &scriptedClient{responses: []*protocol.LLMResponse{protocol.Final("ok")}}
	fx := newLoopFixture(t, client, 10)

	handle, err := fx.locks.Acquire("default:alice")
	if err != nil {
		t.Fatal(err)
	}

	_, err = fx.loop.Run(context.Background(), "default:alice", "default", "soul", "hi", nil)
	if protocol.KindOf(err) != protocol.KindLock {
		t.Errorf("run against held lock = %v, want lock error", err)
	}
	handle.Release()
}
