package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nextlevelbuilder/clawd/internal/agent"
	"github.com/nextlevelbuilder/clawd/internal/audit"
	"github.com/nextlevelbuilder/clawd/internal/config"
	"github.com/nextlevelbuilder/clawd/internal/credentials"
	"github.com/nextlevelbuilder/clawd/internal/integrity"
	"github.com/nextlevelbuilder/clawd/internal/locks"
	"github.com/nextlevelbuilder/clawd/internal/memory"
	"github.com/nextlevelbuilder/clawd/internal/permissions"
	"github.com/nextlevelbuilder/clawd/internal/providers"
	"github.com/nextlevelbuilder/clawd/internal/ratelimit"
	"github.com/nextlevelbuilder/clawd/internal/runtime"
	"github.com/nextlevelbuilder/clawd/internal/sandbox"
	"github.com/nextlevelbuilder/clawd/internal/sessions"
	"github.com/nextlevelbuilder/clawd/internal/telemetry"
	"github.com/nextlevelbuilder/clawd/internal/tools"
)

// app holds the assembled runtime. Components are built in dependency
// order (credentials → audit → sessions → locks → permissions → rate
// limiter → memory → tools → dispatcher → provider → compactor → loop
// → controller) and torn down in reverse.
type app struct {
	cfg        *config.Config
	creds      *credentials.Store
	auditLog   *audit.Logger
	memStore   *memory.Store
	dispatcher *tools.Dispatcher
	controller *runtime.Controller
	watcher    *integrity.AuditWatcher
	shutdownTelemetry func(context.Context) error
}

// loadApp builds the full runtime from config. Startup integrity runs
// first; a corrupted store refuses to boot.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	if failed := integrity.Failed(integrity.ValidateAll(
		cfg.Paths.AuditLog, cfg.Paths.SessionsDir, cfg.Paths.MemoryDB)); failed != nil {
		return nil, fmt.Errorf("startup integrity check failed (%s): %w", failed.Name, failed.Err)
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, shutdownTelemetry: shutdownTelemetry}
	ok := false
	defer func() {
		if !ok {
			a.close(ctx)
		}
	}()

	if key, err := config.MasterKey(); err == nil {
		a.creds, err = credentials.New(cfg.Paths.CredentialsDir, key)
		if err != nil {
			return nil, err
		}
	}

	a.auditLog, err = audit.New(cfg.Paths.AuditLog)
	if err != nil {
		return nil, err
	}
	a.watcher, err = integrity.WatchAuditLog(cfg.Paths.AuditLog, a.auditLog)
	if err != nil {
		return nil, err
	}

	sessionStore, err := sessions.NewStore(cfg.Paths.SessionsDir)
	if err != nil {
		return nil, err
	}

	lockManager := locks.NewManager(cfg.Runtime.LockTimeout())
	permEngine := permissions.NewEngine()
	limiter := ratelimit.New(
		ratelimit.Config{MaxRequests: cfg.RateLimit.Session.MaxRequests, Window: cfg.RateLimit.Session.Window()},
		ratelimit.Config{MaxRequests: cfg.RateLimit.Tool.MaxRequests, Window: cfg.RateLimit.Tool.Window()},
		ratelimit.Config{MaxRequests: cfg.RateLimit.Global.MaxRequests, Window: cfg.RateLimit.Global.Window()},
	)

	a.memStore, err = memory.Open(cfg.Paths.MemoryDB)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Paths.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	guard, err := sandbox.NewPathGuard(cfg.Paths.Workspace)
	if err != nil {
		return nil, err
	}

	registry, err := tools.NewRegistry(
		tools.NewEchoTool(),
		tools.NewFsReadTool(guard),
		tools.NewFsWriteTool(guard),
		tools.NewFsListTool(guard),
		tools.NewFsCreateDirTool(guard),
		tools.NewFsDeleteTool(guard),
		tools.NewFsMoveTool(guard),
		tools.NewFsCopyTool(guard),
		tools.NewProcSpawnTool(),
		tools.NewProcKillTool(),
		tools.NewProcListTool(),
		tools.NewShellRunTool(cfg.Paths.Workspace),
		tools.NewMemorySetTool(a.memStore),
		tools.NewMemoryGetTool(a.memStore),
		tools.NewMemoryDeleteTool(a.memStore),
	)
	if err != nil {
		return nil, err
	}

	a.dispatcher = tools.NewDispatcher(registry, permEngine, a.auditLog, limiter, cfg.Runtime.ToolTimeout())

	client := providers.NewOpenAIClient(providers.OpenAIConfig{
		APIBase:           cfg.Provider.APIBase,
		APIKey:            cfg.Provider.APIKey,
		Model:             cfg.Provider.Model,
		MaxRetries:        uint64(cfg.Provider.MaxRetries),
		RetryDelay:        durationMs(cfg.Provider.RetryDelayMs),
		BreakerThreshold:  cfg.Provider.BreakerThreshold,
		BreakerCooldown:   durationMs(cfg.Provider.BreakerCooldownMs),
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	})

	compactor := agent.NewCompactor(cfg.Runtime.CompactionThreshold, agent.NewLLMSummarizer(client))

	loop := agent.NewLoop(sessionStore, lockManager, a.dispatcher, registry, client, compactor,
		a.auditLog, cfg.Runtime.MaxIterations)

	a.controller = runtime.NewController(loop, cfg.Paths.AgentsDir, cfg.Runtime.MaxConcurrentSessions)

	ok = true
	return a, nil
}

// close tears the runtime down in reverse initialization order.
func (a *app) close(ctx context.Context) {
	if a.dispatcher != nil {
		a.dispatcher.DrainAudit()
	}
	if a.memStore != nil {
		a.memStore.Close()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.auditLog != nil {
		a.auditLog.Close()
	}
	if a.creds != nil {
		a.creds.Close()
	}
	if a.shutdownTelemetry != nil {
		a.shutdownTelemetry(ctx)
	}
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
