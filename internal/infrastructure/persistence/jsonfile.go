package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// JSONFile is a single-writer, atomically-persisted JSON document.
// It backs the nervous-system state files named in the data-root layout
// (working_memory.json, outbox.json, dead_letter_queue.json, reminders.json,
// patterns.json, attention_log.json, capability_backlog.json,
// contact_interactions.json): loads tolerate an absent or corrupt file,
// writes go through a temp file + rename so a crash mid-write never leaves
// a half-written document on disk.
type JSONFile struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewJSONFile creates a handle for the document at path. The parent
// directory is created if missing.
func NewJSONFile(path string, logger *zap.Logger) *JSONFile {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	return &JSONFile{path: path, logger: logger}
}

// Load unmarshals the current document into v. A missing file leaves v
// untouched (caller should pre-populate defaults). A corrupt file is
// logged and treated as missing.
func (f *JSONFile) Load(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		if f.logger != nil {
			f.logger.Warn("corrupt state file, ignoring", zap.String("path", f.path), zap.Error(err))
		}
		return nil
	}
	return nil
}

// Save serializes v and atomically replaces the document on disk.
func (f *JSONFile) Save(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveLocked(v)
}

func (f *JSONFile) saveLocked(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.path, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmp, f.path, err)
	}
	return nil
}

// MutateWithCallback loads the document into v, applies fn, and saves the
// (possibly mutated) result — all while holding the file's write lock, so
// concurrent mutators serialize instead of racing on the temp file.
func (f *JSONFile) MutateWithCallback(v interface{}, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err == nil && len(data) > 0 {
		if uerr := json.Unmarshal(data, v); uerr != nil && f.logger != nil {
			f.logger.Warn("corrupt state file, starting fresh", zap.String("path", f.path), zap.Error(uerr))
		}
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", f.path, err)
	}

	if err := fn(); err != nil {
		return err
	}
	return f.saveLocked(v)
}

// AppendJSONL appends a single JSON-encoded line to an append-only log
// file (used by the brain backup and delegation audit logs). Safe for
// concurrent callers of the same *JSONFile.
func (f *JSONFile) AppendJSONL(record interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	defer fh.Close()
	if _, err := fh.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", f.path, err)
	}
	return nil
}

// Path returns the underlying file path.
func (f *JSONFile) Path() string { return f.path }
