package runtime

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/clawd/internal/agent"
	"github.com/nextlevelbuilder/clawd/internal/sessions"
	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// Controller is the semaphore-bounded entry point for agent execution.
// It resolves the session key, loads the agent config fresh per
// request, and delegates to the agent loop. The permit and the session
// lock are both released before Execute returns.
type Controller struct {
	loop      *agent.Loop
	agentsDir string
	permits   *semaphore.Weighted
}

// NewController bounds concurrency at maxConcurrentSessions.
func NewController(loop *agent.Loop, agentsDir string, maxConcurrentSessions int) *Controller {
	if maxConcurrentSessions <= 0 {
		maxConcurrentSessions = 100
	}
	return &Controller{
		loop:      loop,
		agentsDir: agentsDir,
		permits:   semaphore.NewWeighted(int64(maxConcurrentSessions)),
	}
}

// Execute runs one user message through the named agent and returns the
// final response text.
func (c *Controller) Execute(ctx context.Context, userID, agentID, userMessage string) (string, error) {
	if err := c.permits.Acquire(ctx, 1); err != nil {
		return "", protocol.WrapError(protocol.KindSession, "concurrency permit", err)
	}
	defer c.permits.Release(1)

	slog.Info("processing request", "user", userID, "agent", agentID)

	sessionKey, err := sessions.BuildKey(agentID, userID)
	if err != nil {
		return "", protocol.WrapError(protocol.KindSession, "resolve session", err)
	}

	cfg, err := LoadAgentConfig(AgentConfigPath(c.agentsDir, agentID))
	if err != nil {
		return "", err
	}

	var toolNames []string
	if len(cfg.Tools) > 0 {
		toolNames = cfg.Tools
	}

	response, err := c.loop.Run(ctx, sessionKey, cfg.ID, cfg.Soul, userMessage, toolNames)
	if err != nil {
		slog.Error("runtime execution failed", "session", sessionKey, "error", err)
		return "", err
	}

	slog.Info("request completed", "session", sessionKey)
	return response, nil
}

// SetModel switches the active provider model.
func (c *Controller) SetModel(model string) { c.loop.SetModel(model) }

// CurrentModel returns the active provider model.
func (c *Controller) CurrentModel() string { return c.loop.CurrentModel() }

// ListModels lists the provider's available models.
func (c *Controller) ListModels(ctx context.Context) ([]string, error) {
	return c.loop.ListModels(ctx)
}

// SetMaxIterations updates the loop's iteration budget.
func (c *Controller) SetMaxIterations(n int) { c.loop.SetMaxIterations(n) }
