package background

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/service"
	"github.com/amplifyco/novaagent/internal/infrastructure/config"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// AutoUpdater is C18: a 24h self-healing cycle that scans dependencies
// for updates, backs up the manifest before applying any, checks the
// source repo for new commits, and watches the env file for live secret
// reloads — requesting a restart through the side channel whenever
// something actually changed (§4.17). It never notifies on a clean scan.
type AutoUpdater struct {
	cfg       config.AutoUpdateConfig
	repoDir   string
	backupDir string
	notifier  service.Notifier
	restart   func(reason string)
	logger    *zap.Logger

	interval time.Duration
	stopCh   chan struct{}

	mu          sync.Mutex
	lastSummary string

	watcher *fsnotify.Watcher
}

// NewAutoUpdater wires the C18 loop. restart is the side-channel restart
// request hook; pass nil to fall back to running cfg.RestartCommand (if
// set) via a subprocess, or a bare log line if neither is available.
func NewAutoUpdater(cfg config.AutoUpdateConfig, repoDir, dataDir string, notifier service.Notifier, restart func(reason string), logger *zap.Logger) *AutoUpdater {
	interval := 24 * time.Hour
	if d, err := time.ParseDuration(cfg.CheckInterval); err == nil && d > 0 {
		interval = d
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoUpdater{
		cfg:       cfg,
		repoDir:   repoDir,
		backupDir: filepath.Join(dataDir, "backups"),
		notifier:  notifier,
		restart:   restart,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the 24h cycle and, concurrently, the env-file watcher, until
// ctx is cancelled or Stop is called.
func (u *AutoUpdater) Start(ctx context.Context) {
	if !u.cfg.Enabled {
		return
	}
	if u.cfg.EnvFilePath != "" {
		go u.watchEnvFile(ctx)
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.stopCh:
			return
		case <-ticker.C:
			u.cycle(ctx)
		}
	}
}

// Stop ends the cycle loop and the env-file watcher.
func (u *AutoUpdater) Stop() {
	close(u.stopCh)
	if u.watcher != nil {
		_ = u.watcher.Close()
	}
}

// LastCycleSummary satisfies background.HealingSummaryProvider for the
// daily digest.
func (u *AutoUpdater) LastCycleSummary() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastSummary
}

func (u *AutoUpdater) setSummary(s string) {
	u.mu.Lock()
	u.lastSummary = s
	u.mu.Unlock()
}

func (u *AutoUpdater) cycle(ctx context.Context) {
	outdated, vulnNote := u.scanDependencies(ctx)
	var notices []string

	if len(outdated) > 0 {
		if err := u.backupManifest(); err != nil {
			u.logger.Warn("auto updater: manifest backup failed", zap.Error(err))
		} else {
			updated, failed := u.applyUpdates(ctx, outdated)
			if len(updated) > 0 {
				notices = append(notices, fmt.Sprintf("dependencies updated: %s", strings.Join(updated, ", ")))
			}
			if len(failed) > 0 {
				notices = append(notices, fmt.Sprintf("dependency updates failed: %s", strings.Join(failed, ", ")))
			}
			if len(updated) > 0 {
				u.requestRestart(ctx, "dependency update")
			}
		}
	}
	if vulnNote != "" {
		notices = append(notices, vulnNote)
	}

	if pulled, err := u.checkGitUpdates(ctx); err != nil {
		u.logger.Warn("auto updater: git check failed", zap.Error(err))
	} else if pulled != "" {
		notices = append(notices, "source updated: "+pulled)
		u.requestRestart(ctx, "source update: "+pulled)
	}

	if len(notices) == 0 {
		u.setSummary("clean scan, no changes")
		return
	}
	summary := strings.Join(notices, "; ")
	u.setSummary(summary)
	if u.notifier != nil {
		if err := u.notifier.Notify(ctx, "Self-healing: "+summary, service.NotifyWarning); err != nil {
			u.logger.Warn("auto updater: notify failed", zap.Error(err))
		}
	}
}

// scanDependencies lists modules with a newer version available via `go
// list -m -u`. The second return is a human-readable vulnerability-scan
// note; a real deployment wires `govulncheck` here, but absent that
// binary on PATH the scan degrades to a no-op note rather than failing
// the cycle.
func (u *AutoUpdater) scanDependencies(ctx context.Context) (outdated []string, vulnNote string) {
	cmd := exec.CommandContext(ctx, "go", "list", "-m", "-u", "all")
	cmd.Dir = u.repoDir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		u.logger.Debug("auto updater: go list -u failed", zap.Error(err))
		return nil, ""
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, "[") && strings.Contains(line, "]") {
			fields := strings.Fields(line)
			if len(fields) > 0 {
				outdated = append(outdated, fields[0])
			}
		}
	}

	if _, err := exec.LookPath("govulncheck"); err == nil {
		vulnCmd := exec.CommandContext(ctx, "govulncheck", "./...")
		vulnCmd.Dir = u.repoDir
		if err := vulnCmd.Run(); err != nil {
			vulnNote = "vulnerability scan flagged issues, see govulncheck output"
		}
	}
	return outdated, vulnNote
}

func (u *AutoUpdater) backupManifest() error {
	if err := os.MkdirAll(u.backupDir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	stamp := time.Now().Format("20060102-150405")
	for _, name := range []string{"go.mod", "go.sum"} {
		src := filepath.Join(u.repoDir, name)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", name, err)
		}
		dst := filepath.Join(u.backupDir, name+"."+stamp)
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return fmt.Errorf("write backup %s: %w", dst, err)
		}
	}
	return nil
}

// applyUpdates runs `go get <module>@latest` per outdated module, then
// `go mod tidy` if any update succeeded. It has no security-only mode:
// cycle passes every outdated module that scanDependencies reports.
func (u *AutoUpdater) applyUpdates(ctx context.Context, outdated []string) (updated, failed []string) {
	for _, mod := range outdated {
		cmd := exec.CommandContext(ctx, "go", "get", mod+"@latest")
		cmd.Dir = u.repoDir
		if err := cmd.Run(); err != nil {
			failed = append(failed, mod)
			continue
		}
		updated = append(updated, mod)
	}
	if len(updated) > 0 {
		tidy := exec.CommandContext(ctx, "go", "mod", "tidy")
		tidy.Dir = u.repoDir
		_ = tidy.Run()
	}
	return updated, failed
}

// checkGitUpdates fetches the configured remote/branch and pulls if the
// remote has new commits, returning the short commit range pulled (empty
// if already up to date).
func (u *AutoUpdater) checkGitUpdates(ctx context.Context) (string, error) {
	if u.cfg.GitRemote == "" {
		return "", nil
	}
	fetch := exec.CommandContext(ctx, "git", "fetch", u.cfg.GitRemote, u.cfg.GitBranch)
	fetch.Dir = u.repoDir
	if err := fetch.Run(); err != nil {
		return "", fmt.Errorf("git fetch: %w", err)
	}

	localHead, err := u.gitRevParse(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	remoteHead, err := u.gitRevParse(ctx, u.cfg.GitRemote+"/"+u.cfg.GitBranch)
	if err != nil {
		return "", err
	}
	if localHead == remoteHead {
		return "", nil
	}

	pull := exec.CommandContext(ctx, "git", "pull", u.cfg.GitRemote, u.cfg.GitBranch)
	pull.Dir = u.repoDir
	if err := pull.Run(); err != nil {
		return "", fmt.Errorf("git pull: %w", err)
	}
	return localHead[:7] + ".." + remoteHead[:7], nil
}

func (u *AutoUpdater) gitRevParse(ctx context.Context, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", ref)
	cmd.Dir = u.repoDir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", ref, err)
	}
	return strings.TrimSpace(out.String()), nil
}

// requestRestart delivers the restart request through the side channel:
// the injected callback if present, else the configured restart command,
// else a log line noting no restart path is configured.
func (u *AutoUpdater) requestRestart(ctx context.Context, reason string) {
	if u.restart != nil {
		u.restart(reason)
		return
	}
	if u.cfg.RestartCommand == "" {
		u.logger.Warn("auto updater: restart requested but no restart command configured", zap.String("reason", reason))
		return
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", u.cfg.RestartCommand)
	cmd.Dir = u.repoDir
	if err := cmd.Run(); err != nil {
		u.logger.Warn("auto updater: restart command failed", zap.Error(err), zap.String("reason", reason))
	}
}

// watchEnvFile watches the configured env file via fsnotify and, on any
// write, notifies and requests a restart so the new secrets take effect.
func (u *AutoUpdater) watchEnvFile(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		u.logger.Warn("auto updater: failed to start env watcher", zap.Error(err))
		return
	}
	u.watcher = watcher
	defer watcher.Close()

	dir := filepath.Dir(u.cfg.EnvFilePath)
	if err := watcher.Add(dir); err != nil {
		u.logger.Warn("auto updater: failed to watch env dir", zap.String("dir", dir), zap.Error(err))
		return
	}

	target := filepath.Clean(u.cfg.EnvFilePath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			u.setSummary("env file changed, restart requested")
			if u.notifier != nil {
				_ = u.notifier.Notify(ctx, "Environment file changed, restarting to reload secrets.", service.NotifyWarning)
			}
			u.requestRestart(ctx, "env file change")
		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			u.logger.Warn("auto updater: env watcher error", zap.Error(werr))
		}
	}
}

var _ HealingSummaryProvider = (*AutoUpdater)(nil)
