package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// Store persists sessions as JSON-lines files under a base directory.
// One message per line; writers always emit a trailing newline. Loading
// tolerates individual corrupted lines (skipped with a warning) so a
// single torn record never loses the whole conversation.
type Store struct {
	dir string
}

// NewStore creates the base directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.dir }

// Append writes one message to the session file in append mode and
// fsyncs. Callers are expected to hold the session lock; a single-line
// O_APPEND write is additionally line-atomic on POSIX.
func (s *Store) Append(key string, msg protocol.Message) error {
	path, err := s.sessionPath(key)
	if err != nil {
		return err
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append message: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync session file: %w", err)
	}
	return f.Close()
}

// Save atomically rewrites the whole session: write to a temp file in
// the same directory, fsync, rename. A failure mid-write never
// truncates the live file.
func (s *Store) Save(key string, msgs []protocol.Message) error {
	path, err := s.sessionPath(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, msg := range msgs {
		line, err := json.Marshal(msg)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write session file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	cleanup = false
	return nil
}

// Load reads the session's messages. A missing file is an empty
// history. Lines that fail to parse are skipped and logged; unknown
// top-level fields are tolerated.
func (s *Store) Load(key string) ([]protocol.Message, error) {
	path, err := s.sessionPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []protocol.Message{}, nil
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var msgs []protocol.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Warn("skipping corrupted session line",
				"session", key, "line", lineNum, "error", err)
			continue
		}
		if err := msg.ValidateVersion(); err != nil {
			slog.Warn("skipping session line with unknown schema",
				"session", key, "line", lineNum, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if msgs == nil {
		msgs = []protocol.Message{}
	}
	return msgs, nil
}

// Delete removes a session file. Missing files are not an error.
func (s *Store) Delete(key string) error {
	path, err := s.sessionPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// List returns the keys of all sessions on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	return keys, nil
}

func (s *Store) sessionPath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, key+".jsonl"), nil
}
