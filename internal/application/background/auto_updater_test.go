package background

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/infrastructure/config"
)

func TestAutoUpdater_LastCycleSummary_DefaultsEmpty(t *testing.T) {
	u := NewAutoUpdater(config.AutoUpdateConfig{}, t.TempDir(), t.TempDir(), nil, nil, nil)
	if got := u.LastCycleSummary(); got != "" {
		t.Errorf("expected empty summary before any cycle, got %q", got)
	}
}

func TestAutoUpdater_SetSummary_IsReadableViaLastCycleSummary(t *testing.T) {
	u := NewAutoUpdater(config.AutoUpdateConfig{}, t.TempDir(), t.TempDir(), nil, nil, nil)
	u.setSummary("clean scan, no changes")
	if got := u.LastCycleSummary(); got != "clean scan, no changes" {
		t.Errorf("expected the set summary to be readable, got %q", got)
	}
}

func TestAutoUpdater_RequestRestart_PrefersInjectedCallback(t *testing.T) {
	var mu sync.Mutex
	var gotReason string
	restart := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		gotReason = reason
	}
	u := NewAutoUpdater(config.AutoUpdateConfig{}, t.TempDir(), t.TempDir(), nil, restart, nil)
	u.requestRestart(context.Background(), "dependency update")

	mu.Lock()
	defer mu.Unlock()
	if gotReason != "dependency update" {
		t.Errorf("expected the injected restart callback to be invoked with the reason, got %q", gotReason)
	}
}

func TestAutoUpdater_RequestRestart_NoopWhenNoCallbackOrCommand(t *testing.T) {
	u := NewAutoUpdater(config.AutoUpdateConfig{}, t.TempDir(), t.TempDir(), nil, nil, nil)
	// Should not panic and should not attempt to run any command.
	u.requestRestart(context.Background(), "no path configured")
}

func TestAutoUpdater_BackupManifest_CopiesGoModAndSum(t *testing.T) {
	repoDir := t.TempDir()
	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "go.mod"), []byte("module example\n"), 0644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "go.sum"), []byte("checksum data\n"), 0644); err != nil {
		t.Fatalf("write go.sum: %v", err)
	}

	u := NewAutoUpdater(config.AutoUpdateConfig{}, repoDir, dataDir, nil, nil, nil)
	if err := u.backupManifest(); err != nil {
		t.Fatalf("backupManifest: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dataDir, "backups"))
	if err != nil {
		t.Fatalf("ReadDir backups: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 backed-up files (go.mod, go.sum), got %d", len(entries))
	}
}

func TestAutoUpdater_BackupManifest_SkipsMissingFilesWithoutError(t *testing.T) {
	repoDir := t.TempDir() // no go.mod/go.sum present
	dataDir := t.TempDir()
	u := NewAutoUpdater(config.AutoUpdateConfig{}, repoDir, dataDir, nil, nil, nil)
	if err := u.backupManifest(); err != nil {
		t.Fatalf("expected missing manifest files to be skipped without error, got %v", err)
	}
}

func TestAutoUpdater_WatchEnvFile_TriggersRestartOnWrite(t *testing.T) {
	repoDir := t.TempDir()
	dataDir := t.TempDir()
	envPath := filepath.Join(repoDir, ".env")
	if err := os.WriteFile(envPath, []byte("KEY=1\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	restartCh := make(chan string, 1)
	restart := func(reason string) { restartCh <- reason }

	cfg := config.AutoUpdateConfig{EnvFilePath: envPath}
	u := NewAutoUpdater(cfg, repoDir, dataDir, nil, restart, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.watchEnvFile(ctx)

	// Give the watcher a moment to register before triggering the write.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(envPath, []byte("KEY=2\n"), 0644); err != nil {
		t.Fatalf("rewrite env file: %v", err)
	}

	select {
	case reason := <-restartCh:
		if reason != "env file change" {
			t.Errorf("expected reason 'env file change', got %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a restart request after the env file was rewritten")
	}
	u.Stop()
}
