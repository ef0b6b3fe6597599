package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and switch provider models",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			models, err := a.controller.ListModels(ctx)
			if err != nil {
				return err
			}
			current := a.controller.CurrentModel()
			for _, m := range models {
				marker := "  "
				if m == current {
					marker = "* "
				}
				fmt.Println(marker + m)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Print the active model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			fmt.Println(a.controller.CurrentModel())
			return nil
		},
	})

	return cmd
}
