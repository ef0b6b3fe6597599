package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawd/internal/config"
	"github.com/nextlevelbuilder/clawd/internal/schedule"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage and run scheduled agent jobs",
	}
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronServeCmd())
	return cmd
}

func jobsFile() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", err
	}
	return cfg.Cron.JobsFile, nil
}

func cronAddCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "add <agent> <schedule> <message>",
		Short: "Add a recurring agent job (cron expression)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := schedule.ValidateExpr(args[1]); err != nil {
				return err
			}
			path, err := jobsFile()
			if err != nil {
				return err
			}
			jobs, err := schedule.LoadJobs(path)
			if err != nil {
				return err
			}
			job := schedule.Job{
				ID:       uuid.NewString()[:8],
				AgentID:  args[0],
				UserID:   userID,
				Message:  args[2],
				Schedule: args[1],
			}
			jobs = append(jobs, job)
			if err := schedule.SaveJobs(path, jobs); err != nil {
				return err
			}
			fmt.Println("added job", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id for session scoping")
	return cmd
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := jobsFile()
			if err != nil {
				return err
			}
			jobs, err := schedule.LoadJobs(path)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			fmt.Printf("%s %s %s %s\n", pad("ID", 10), pad("AGENT", 16), pad("SCHEDULE", 16), "MESSAGE")
			for _, j := range jobs {
				fmt.Printf("%s %s %s %s\n", pad(j.ID, 10), pad(j.AgentID, 16), pad(j.Schedule, 16), j.Message)
			}
			return nil
		},
	}
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := jobsFile()
			if err != nil {
				return err
			}
			jobs, err := schedule.LoadJobs(path)
			if err != nil {
				return err
			}
			kept := jobs[:0]
			found := false
			for _, j := range jobs {
				if j.ID == args[0] {
					found = true
					continue
				}
				kept = append(kept, j)
			}
			if !found {
				return fmt.Errorf("job not found: %s", args[0])
			}
			if err := schedule.SaveJobs(path, kept); err != nil {
				return err
			}
			fmt.Println("removed job", args[0])
			return nil
		},
	}
}

func cronServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			fmt.Println("clawd scheduler running (ctrl-c to stop)")
			schedule.New(a.controller, a.cfg.Cron.JobsFile).Run(ctx)
			return nil
		},
	}
}
