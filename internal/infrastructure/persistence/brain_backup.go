package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/amplifyco/novaagent/internal/domain/memory"
)

// BrainBackup is the crash-safe append-only log backing the three
// collective collections (identity/preferences/contacts). Every mutating
// call on those collections appends one JSONL record here; on startup, if
// any collective collection is empty, the log is replayed (§4.1).
type BrainBackup struct {
	path   string
	logger *zap.Logger
}

// NewBrainBackup opens (creating if absent) the backup log at path.
func NewBrainBackup(path string, logger *zap.Logger) *BrainBackup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrainBackup{path: path, logger: logger}
}

// AppendBackup implements memory.BackupWriter.
func (b *BrainBackup) AppendBackup(record memory.BackupRecord) error {
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open backup log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal backup record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append backup record: %w", err)
	}
	return nil
}

// Restore replays the backup log into target when the replay condition
// holds. Replay is idempotent: identity/contacts use stable slug ids so
// re-inserting is a no-op overwrite; preferences are append-only by design
// so every record is simply re-appended (duplicate preference lines are
// harmless — preferences never claimed uniqueness). Corrupt lines are
// skipped with a warning, never abort (§4.1).
func (b *BrainBackup) Restore(target memory.RestoreTarget) (replayed int, err error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open backup log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec memory.BackupRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			b.logger.Warn("skipping corrupt backup line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if err := target.RestoreRecord(rec.Collection, rec.ID, rec.Content, rec.Metadata); err != nil {
			b.logger.Warn("skipping backup record that failed to restore",
				zap.Int("line", lineNo), zap.String("collection", rec.Collection), zap.Error(err))
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, fmt.Errorf("scan backup log: %w", err)
	}
	return replayed, nil
}
