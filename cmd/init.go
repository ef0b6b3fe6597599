package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawd/internal/config"
)

const defaultSoul = `You are a helpful local assistant with access to the host through tools.
Prefer the narrowest tool that accomplishes the task, and report what you did.
`

func initCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-time setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()

			model := cfg.Provider.Model
			apiBase := cfg.Provider.APIBase
			agentID := "default"

			if !yes {
				form := huh.NewForm(huh.NewGroup(
					huh.NewInput().
						Title("Model").
						Value(&model),
					huh.NewInput().
						Title("API base URL (empty for OpenAI)").
						Value(&apiBase),
					huh.NewInput().
						Title("Default agent id").
						Value(&agentID),
				))
				if err := form.Run(); err != nil {
					return err
				}
			}

			cfg.Provider.Model = model
			cfg.Provider.APIBase = apiBase

			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
				return err
			}

			// Seed the default agent (yaml + soul file).
			if err := os.MkdirAll(cfg.Paths.AgentsDir, 0o755); err != nil {
				return err
			}
			soulFile := agentID + ".md"
			if err := os.WriteFile(filepath.Join(cfg.Paths.AgentsDir, soulFile), []byte(defaultSoul), 0o644); err != nil {
				return err
			}
			agentYAML := fmt.Sprintf("id: %s\nsoul: %s\ntools: []\n", agentID, soulFile)
			if err := os.WriteFile(filepath.Join(cfg.Paths.AgentsDir, agentID+".yaml"), []byte(agentYAML), 0o644); err != nil {
				return err
			}

			fmt.Println("wrote", cfgPath)
			fmt.Println("created agent", agentID)
			fmt.Println("set CLAWD_API_KEY and CLAWD_MASTER_KEY in your environment to finish setup")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept defaults without prompting")
	return cmd
}
