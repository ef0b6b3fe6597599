package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		userID      string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "run <agent> [message]",
		Short: "Run a message through an agent",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			agentID := args[0]

			if interactive {
				return runREPL(ctx, a, userID, agentID)
			}

			if len(args) < 2 {
				return fmt.Errorf("message required (or use -i for interactive mode)")
			}

			response, err := a.controller.Execute(ctx, userID, agentID, args[1])
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id for session scoping")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "interactive REPL mode")
	return cmd
}

func runREPL(ctx context.Context, a *app, userID, agentID string) error {
	fmt.Printf("clawd %s — agent %q (ctrl-d or /quit to exit)\n", Version, agentID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		response, err := a.controller.Execute(ctx, userID, agentID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(response)
	}
}
