// Package integrity is the boot gate: before the runtime serves a
// single request, the audit chain, every session file, and the memory
// database must verify. Any failure is fatal.
package integrity

import (
	"fmt"
	"os"

	"github.com/nextlevelbuilder/clawd/internal/audit"
	"github.com/nextlevelbuilder/clawd/internal/memory"
	"github.com/nextlevelbuilder/clawd/internal/sessions"
)

// CheckResult reports one validation step for diagnostics output.
type CheckResult struct {
	Name string
	Err  error
}

// ValidateAll runs the full startup check: audit chain, session files,
// SQLite integrity. Missing state is fine (fresh install); corrupted
// state is not.
func ValidateAll(auditLogPath, sessionsDir, memoryDBPath string) []CheckResult {
	return []CheckResult{
		{Name: "audit chain", Err: VerifyAuditChain(auditLogPath)},
		{Name: "session files", Err: VerifySessions(sessionsDir)},
		{Name: "memory database", Err: VerifyMemoryDB(memoryDBPath)},
	}
}

// Failed returns the first failing check, or nil.
func Failed(results []CheckResult) *CheckResult {
	for i := range results {
		if results[i].Err != nil {
			return &results[i]
		}
	}
	return nil
}

// VerifyAuditChain opens the audit log, which verifies the whole chain.
// An absent log is a no-op.
func VerifyAuditChain(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	logger, err := audit.New(path)
	if err != nil {
		return fmt.Errorf("audit chain: %w", err)
	}
	return logger.Close()
}

// VerifySessions loads every session file in the directory, failing on
// the first load error. Individual corrupted lines are recoverable by
// design and do not fail the check.
func VerifySessions(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	store, err := sessions.NewStore(dir)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	keys, err := store.List()
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	for _, key := range keys {
		if _, err := store.Load(key); err != nil {
			return fmt.Errorf("session %q: %w", key, err)
		}
	}
	return nil
}

// VerifyMemoryDB runs SQLite's native integrity check. An absent
// database is a no-op.
func VerifyMemoryDB(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	store, err := memory.Open(path)
	if err != nil {
		return fmt.Errorf("memory db: %w", err)
	}
	defer store.Close()
	if err := store.IntegrityCheck(); err != nil {
		return fmt.Errorf("memory db: %w", err)
	}
	return nil
}
