package cmd

import (
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawd/internal/config"
	"github.com/nextlevelbuilder/clawd/internal/integrity"
	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and persisted-state integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

func runDoctor() error {
	fmt.Println("clawd doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("  Go:       %s\n", goruntime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	fmt.Println()
	fmt.Println("  Integrity:")
	results := integrity.ValidateAll(cfg.Paths.AuditLog, cfg.Paths.SessionsDir, cfg.Paths.MemoryDB)
	failed := false
	for _, r := range results {
		status := "OK"
		if r.Err != nil {
			status = "FAIL: " + r.Err.Error()
			failed = true
		}
		fmt.Printf("    %-18s %s\n", r.Name+":", status)
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	if _, err := config.MasterKey(); err != nil {
		fmt.Printf("    master key:        not available (%v)\n", err)
	} else {
		fmt.Println("    master key:        OK")
	}

	if failed {
		return fmt.Errorf("integrity check failed")
	}
	return nil
}
