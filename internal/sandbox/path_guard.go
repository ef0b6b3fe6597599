// Package sandbox contains the pure policy guards every tool must route
// through before touching the host: path containment and argv vetting.
// These are policy checks, not kernel isolation.
package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the ceiling for files read through the guard. A file
// exactly at the limit is accepted; one byte over is rejected.
const MaxFileSize = 10 * 1024 * 1024

// ViolationError reports a rejected path or command with the rule that
// fired. It is deliberately terse; details go to the log, not the LLM.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return "sandbox violation: " + e.Reason
}

func violation(format string, args ...any) error {
	return &ViolationError{Reason: fmt.Sprintf(format, args...)}
}

// PathGuard proves that user-supplied paths stay inside a canonical
// sandbox root. Validation always compares canonical (symlink-resolved)
// paths, never the raw input, so a symlink inside the root cannot be
// used to reach outside it.
type PathGuard struct {
	root string
}

// NewPathGuard canonicalizes the sandbox root. The root must exist.
func NewPathGuard(root string) (*PathGuard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, violation("invalid sandbox root: %v", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, violation("invalid sandbox root: %v", err)
	}
	return &PathGuard{root: real}, nil
}

// Root returns the canonical sandbox root.
func (g *PathGuard) Root() string { return g.root }

// Validate resolves path against the sandbox root and returns the
// canonical result, or fails if the path is absolute, contains a ".."
// component, does not exist, escapes the root after symlink resolution,
// or names a regular file larger than MaxFileSize.
func (g *PathGuard) Validate(path string) (string, error) {
	if err := g.rejectRaw(path); err != nil {
		return "", err
	}

	full := filepath.Join(g.root, path)
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", violation("path does not exist or is inaccessible")
	}

	if !isPathInside(real, g.root) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "root", g.root)
		return "", violation("path escapes sandbox")
	}

	if info, err := os.Stat(real); err == nil && info.Mode().IsRegular() && info.Size() > MaxFileSize {
		return "", violation("file too large")
	}

	return real, nil
}

// ValidateNew is Validate for paths that may not exist yet (file
// creation). Every existing prefix of the target is canonicalized and
// checked against the root, so a symlinked intermediate directory
// cannot smuggle the write outside the sandbox.
func (g *PathGuard) ValidateNew(path string) (string, error) {
	if err := g.rejectRaw(path); err != nil {
		return "", err
	}

	full := filepath.Join(g.root, path)

	if parent := filepath.Dir(full); parent != "" {
		if _, err := os.Stat(parent); err == nil {
			realParent, err := filepath.EvalSymlinks(parent)
			if err != nil {
				return "", violation("invalid parent directory")
			}
			if !isPathInside(realParent, g.root) {
				slog.Warn("security.path_escape", "path", path, "resolved", realParent, "root", g.root)
				return "", violation("path escapes sandbox")
			}
		}
	}

	// Walk each existing component below the root and verify it
	// canonicalizes back inside the sandbox.
	rel, err := filepath.Rel(g.root, full)
	if err != nil {
		return "", violation("path escapes sandbox")
	}
	current := g.root
	for _, component := range strings.Split(rel, string(filepath.Separator)) {
		if component == "" || component == "." {
			continue
		}
		current = filepath.Join(current, component)
		if _, err := os.Lstat(current); err != nil {
			break // rest of the path does not exist yet
		}
		real, err := filepath.EvalSymlinks(current)
		if err != nil {
			return "", violation("cannot resolve path component")
		}
		if !isPathInside(real, g.root) {
			slog.Warn("security.symlink_escape", "path", path, "component", current, "resolved", real)
			return "", violation("symlink escapes sandbox")
		}
	}

	return full, nil
}

// rejectRaw applies the textual checks that run before any filesystem
// access: absolute paths and ".." components.
func (g *PathGuard) rejectRaw(path string) error {
	if path == "" {
		return violation("empty path")
	}
	if filepath.IsAbs(path) {
		return violation("absolute paths not allowed")
	}
	if strings.Contains(path, "..") {
		return violation("path traversal detected")
	}
	return nil
}

// isPathInside checks whether child is inside or equal to parent.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
