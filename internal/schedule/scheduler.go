// Package schedule runs recurring agent prompts on cron expressions.
// Jobs live in a JSON file; every due run flows through the runtime
// controller like any other request, so locking, auditing, and rate
// limits all apply.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/clawd/internal/runtime"
)

// Job is one recurring agent prompt.
type Job struct {
	ID       string `json:"id"`
	AgentID  string `json:"agent_id"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
	Schedule string `json:"schedule"` // cron expression
	Disabled bool   `json:"disabled,omitempty"`
}

// LoadJobs reads the jobs file. A missing file is an empty job list.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse jobs file: %w", err)
	}
	return jobs, nil
}

// SaveJobs atomically rewrites the jobs file.
func SaveJobs(path string, jobs []Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create jobs dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write jobs file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename jobs file: %w", err)
	}
	return nil
}

// ValidateExpr checks a cron expression.
func ValidateExpr(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %q", expr)
	}
	return nil
}

// Scheduler ticks once a minute and executes due jobs.
type Scheduler struct {
	controller *runtime.Controller
	jobsFile   string
	gron       *gronx.Gronx
}

// New builds a scheduler over the controller.
func New(controller *runtime.Controller, jobsFile string) *Scheduler {
	return &Scheduler{
		controller: controller,
		jobsFile:   jobsFile,
		gron:       gronx.New(),
	}
}

// Run blocks until ctx is done, executing due jobs each minute. Job
// runs happen on their own goroutines so a slow agent never delays the
// tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	jobs, err := LoadJobs(s.jobsFile)
	if err != nil {
		slog.Warn("cron: failed to load jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if job.Disabled {
			continue
		}
		due, err := s.gron.IsDue(job.Schedule, now)
		if err != nil {
			slog.Warn("cron: bad schedule", "job", job.ID, "schedule", job.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}

		slog.Info("cron: job due", "job", job.ID, "agent", job.AgentID)
		go func(job Job) {
			if _, err := s.controller.Execute(ctx, job.UserID, job.AgentID, job.Message); err != nil {
				slog.Error("cron: job failed", "job", job.ID, "error", err)
			} else {
				slog.Info("cron: job completed", "job", job.ID)
			}
		}(job)
	}
}
