package integrity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawd/internal/audit"
)

func TestValidateAll_EmptySystem(t *testing.T) {
	dir := t.TempDir()
	results := ValidateAll(
		filepath.Join(dir, "audit.log"),
		filepath.Join(dir, "sessions"),
		filepath.Join(dir, "memory.db"),
	)
	if failed := Failed(results); failed != nil {
		t.Errorf("fresh system failed %s: %v", failed.Name, failed.Err)
	}
}

func writeAuditEntries(t *testing.T, path string, n int) {
	t.Helper()
	logger, err := audit.New(path)
	if err != nil {
		t.Fatal(err)
	}
	input, _ := json.Marshal(map[string]string{"k": "v"})
	for i := 0; i < n; i++ {
		if err := logger.Log(audit.Entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Session:   "default:alice",
			Tool:      "echo",
			Input:     input,
			Result:    input,
			Approval:  "ALLOW",
		}); err != nil {
			t.Fatal(err)
		}
	}
	logger.Close()
}

func TestValidateAll_CorruptedAuditChainFatal(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	writeAuditEntries(t, auditPath, 3)

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0x01
	if err := os.WriteFile(auditPath, data, 0o600); err != nil {
		t.Fatal(err)
	}

	results := ValidateAll(auditPath, filepath.Join(dir, "sessions"), filepath.Join(dir, "memory.db"))
	failed := Failed(results)
	if failed == nil || failed.Name != "audit chain" {
		t.Errorf("corrupted chain not fatal: %+v", results)
	}
}

func TestValidateAll_RecoverableSessionCorruption(t *testing.T) {
	dir := t.TempDir()
	sessionsDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// A file with one good and one torn line is recoverable by design.
	content := `{"schema_version":1,"role":"user","content":"hi"}` + "\n{torn\n"
	if err := os.WriteFile(filepath.Join(sessionsDir, "default:alice.jsonl"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	results := ValidateAll(filepath.Join(dir, "audit.log"), sessionsDir, filepath.Join(dir, "memory.db"))
	if failed := Failed(results); failed != nil {
		t.Errorf("recoverable corruption treated as fatal: %s: %v", failed.Name, failed.Err)
	}
}
