package integrity

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/clawd/internal/audit"
)

// AuditWatcher watches the audit log file for out-of-band writes. The
// runtime is the only legitimate writer; any external modification
// triggers a re-verification of the chain and a loud log line when it
// no longer verifies.
type AuditWatcher struct {
	logger  *audit.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchAuditLog starts watching the directory containing the audit log.
// Watching the parent survives rename-based tampering that watching the
// file alone would miss.
func WatchAuditLog(path string, logger *audit.Logger) (*AuditWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	aw := &AuditWatcher{logger: logger, watcher: w, done: make(chan struct{})}
	go aw.run(filepath.Base(path))
	return aw, nil
}

func (aw *AuditWatcher) run(name string) {
	for {
		select {
		case event, ok := <-aw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			// Writes from our own append path re-verify cleanly; the
			// cost is one sequential scan and only on change events.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := aw.logger.VerifyIntegrity(); err != nil {
				slog.Error("security.audit_tamper_detected", "file", event.Name, "error", err)
			}
		case err, ok := <-aw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("audit watcher error", "error", err)
		case <-aw.done:
			return
		}
	}
}

// Close stops the watcher.
func (aw *AuditWatcher) Close() error {
	close(aw.done)
	return aw.watcher.Close()
}
