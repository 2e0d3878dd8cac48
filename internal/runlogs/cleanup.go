package runlogs

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// CleanerConfig holds cleanup configuration.
type CleanerConfig struct {
	Interval              time.Duration
	TTL                   time.Duration
	DiskWarningThreshold  int64 // bytes
	DiskCriticalThreshold int64 // bytes
}

// Cleaner periodically removes expired run log directories.
type Cleaner struct {
	manager *Manager
	inUse   func(path string) bool
	cfg     CleanerConfig
}

// NewCleaner creates a cleaner. inUse reports directories that belong to
// runs still executing; those are never removed.
func NewCleaner(manager *Manager, inUse func(path string) bool, cfg CleanerConfig) *Cleaner {
	if inUse == nil {
		inUse = func(string) bool { return false }
	}
	return &Cleaner{manager: manager, inUse: inUse, cfg: cfg}
}

// Start runs the cleanup loop until the context is cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	interval := c.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	slog.Info("run logs cleaner started", "interval", interval, "root", c.manager.Root())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("run logs cleaner stopped")
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// Cleanup removes expired directories once and checks disk thresholds.
func (c *Cleaner) Cleanup() int {
	dirs, err := c.manager.List()
	if err != nil {
		slog.Error("run logs cleanup scan failed", "error", err)
		return 0
	}

	var cleaned int
	var reclaimedBytes int64

	for _, d := range dirs {
		if !d.IsExpired(c.cfg.TTL) || c.inUse(d.Path) {
			continue
		}
		if err := c.manager.Delete(d.Name); err != nil {
			slog.Error("failed to delete run log dir", "dir", d.Name, "error", err)
			continue
		}
		cleaned++
		reclaimedBytes += d.SizeBytes
	}

	if cleaned > 0 {
		slog.Info("run logs cleanup complete",
			"cleaned", cleaned,
			"reclaimed_mb", float64(reclaimedBytes)/(1024*1024),
		)
	}

	return cleaned + c.checkDiskUsage()
}

func (c *Cleaner) checkDiskUsage() int {
	totalBytes := c.manager.TotalSizeBytes()

	if c.cfg.DiskCriticalThreshold > 0 && totalBytes > c.cfg.DiskCriticalThreshold {
		slog.Error("run logs disk usage critical, triggering emergency cleanup",
			"total_mb", float64(totalBytes)/(1024*1024),
			"threshold_mb", float64(c.cfg.DiskCriticalThreshold)/(1024*1024),
		)
		return c.emergencyCleanup()
	}

	if c.cfg.DiskWarningThreshold > 0 && totalBytes > c.cfg.DiskWarningThreshold {
		slog.Warn("run logs disk usage above warning threshold",
			"total_mb", float64(totalBytes)/(1024*1024),
			"threshold_mb", float64(c.cfg.DiskWarningThreshold)/(1024*1024),
		)
	}
	return 0
}

// emergencyCleanup deletes oldest directories first until below the critical threshold.
func (c *Cleaner) emergencyCleanup() int {
	dirs, err := c.manager.List()
	if err != nil {
		return 0
	}

	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].CreatedAt.Before(dirs[j].CreatedAt)
	})

	var cleaned int
	for _, d := range dirs {
		if c.inUse(d.Path) {
			continue
		}
		slog.Warn("emergency cleanup: deleting run log dir", "dir", d.Name)
		if err := c.manager.Delete(d.Name); err != nil {
			continue
		}
		cleaned++

		if c.manager.TotalSizeBytes() < c.cfg.DiskCriticalThreshold {
			return cleaned
		}
	}
	return cleaned
}
