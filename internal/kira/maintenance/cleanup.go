// Package maintenance enforces retention on dedupe fingerprints,
// quarantined inbox items, and pipeline logs, and handles vault backup and
// restore.
//
// All cleanup operations are idempotent: running them twice deletes
// nothing new.
package maintenance

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/dedupe"
)

// Service runs retention cleanup, once or on a background loop.
type Service struct {
	cfg           config.CleanupConfig
	dedupe        *dedupe.Store
	quarantineDir string
	logDir        string
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires a cleanup service over the dedupe store and the vault's
// quarantine and log directories.
func NewService(cfg config.CleanupConfig, store *dedupe.Store, quarantineDir, logDir string) *Service {
	return &Service{
		cfg:           cfg,
		dedupe:        store,
		quarantineDir: quarantineDir,
		logDir:        logDir,
		interval:      24 * time.Hour,
	}
}

// Start launches the background cleanup loop. The first pass runs
// immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"dedupe_ttl_days", s.cfg.DedupeTTLDays,
		"quarantine_ttl_days", s.cfg.QuarantineTTLDays,
		"log_ttl_days", s.cfg.LogTTLDays,
		"interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.CleanupAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupAll(ctx)
		}
	}
}

// CleanupAll runs every retention pass. Failures are logged, not fatal;
// one failing pass never blocks the others.
func (s *Service) CleanupAll(ctx context.Context) {
	if n, err := s.CleanupDedupe(ctx, s.cfg.DedupeTTLDays); err != nil {
		slog.Error("retention: dedupe cleanup failed", "err", err)
	} else if n > 0 {
		slog.Info("retention: purged dedupe fingerprints", "count", n)
	}
	if n, err := s.CleanupQuarantine(s.cfg.QuarantineTTLDays); err != nil {
		slog.Error("retention: quarantine cleanup failed", "err", err)
	} else if n > 0 {
		slog.Info("retention: removed quarantined files", "count", n)
	}
	if n, err := s.CleanupLogs(s.cfg.LogTTLDays); err != nil {
		slog.Error("retention: log cleanup failed", "err", err)
	} else if n > 0 {
		slog.Info("retention: removed old log files", "count", n)
	}
}

// CleanupDedupe purges fingerprints older than ttlDays and returns the
// number removed.
func (s *Service) CleanupDedupe(ctx context.Context, ttlDays int) (int64, error) {
	if ttlDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays)
	return s.dedupe.PurgeOlderThan(ctx, cutoff)
}

// CleanupQuarantine deletes quarantined files older than ttlDays.
func (s *Service) CleanupQuarantine(ttlDays int) (int, error) {
	return removeOlderThan(s.quarantineDir, ttlDays, func(string) bool { return true })
}

// CleanupLogs deletes rotated log files older than ttlDays. Only *.log and
// *.log.* files are touched.
func (s *Service) CleanupLogs(ttlDays int) (int, error) {
	return removeOlderThan(s.logDir, ttlDays, func(name string) bool {
		return strings.HasSuffix(name, ".log") || strings.Contains(name, ".log.")
	})
}

// removeOlderThan deletes matching regular files whose modification time
// is older than the TTL. A missing directory is a clean zero.
func removeOlderThan(dir string, ttlDays int, match func(name string) bool) (int, error) {
	if ttlDays <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -ttlDays)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
