package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newGuard(t *testing.T) (*PathGuard, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := NewPathGuard(root)
	if err != nil {
		t.Fatalf("NewPathGuard: %v", err)
	}
	return guard, guard.Root()
}

func TestPathGuard_ValidInside(t *testing.T) {
	guard, root := newGuard(t)

	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := guard.Validate("file.txt")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !strings.HasPrefix(resolved, root) {
		t.Errorf("resolved %q not under root %q", resolved, root)
	}
}

func TestPathGuard_Rejections(t *testing.T) {
	guard, _ := newGuard(t)

	tests := []struct {
		name string
		path string
	}{
		{"absolute path", "/etc/passwd"},
		{"parent traversal", "../outside"},
		{"embedded traversal", "a/../../outside"},
		{"dotdot only", ".."},
		{"empty path", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := guard.Validate(tt.path); err == nil {
				t.Errorf("Validate(%q) succeeded, want violation", tt.path)
			}
			if _, err := guard.ValidateNew(tt.path); err == nil {
				t.Errorf("ValidateNew(%q) succeeded, want violation", tt.path)
			}
		})
	}
}

func TestPathGuard_NonexistentRejected(t *testing.T) {
	guard, _ := newGuard(t)
	if _, err := guard.Validate("missing.txt"); err == nil {
		t.Error("Validate of missing file succeeded, want violation")
	}
}

func TestPathGuard_SymlinkEscape(t *testing.T) {
	guard, root := newGuard(t)

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := guard.Validate("link"); err == nil {
		t.Error("symlink escape not detected")
	}
}

func TestPathGuard_SymlinkDirEscapeOnCreate(t *testing.T) {
	guard, root := newGuard(t)

	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "sub")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := guard.ValidateNew("sub/new.txt"); err == nil {
		t.Error("symlinked directory escape not detected on create")
	}
}

func TestPathGuard_ValidateNewFreshFile(t *testing.T) {
	guard, _ := newGuard(t)

	path, err := guard.ValidateNew("fresh.txt")
	if err != nil {
		t.Fatalf("ValidateNew: %v", err)
	}
	if filepath.Base(path) != "fresh.txt" {
		t.Errorf("unexpected path: %q", path)
	}
}

func TestPathGuard_FileSizeBoundary(t *testing.T) {
	guard, root := newGuard(t)

	atLimit := filepath.Join(root, "at.bin")
	f, err := os.Create(atLimit)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(MaxFileSize); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := guard.Validate("at.bin"); err != nil {
		t.Errorf("file exactly at limit rejected: %v", err)
	}

	over := filepath.Join(root, "over.bin")
	f, err = os.Create(over)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(MaxFileSize + 1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := guard.Validate("over.bin"); err == nil {
		t.Error("file one byte over limit accepted")
	}
}
