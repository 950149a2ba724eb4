package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cachekey"
)

const (
	tempPrefix = ".cache-"
	// 超过该时长仍未被 rename 的临时文件视为崩溃残留。
	staleTempAge = time.Hour
)

// Sweeper 由支持主动清理过期条目的存储实现。
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (SweepStats, error)
}

// SweepStats 汇总一次清理的结果。
type SweepStats struct {
	Scanned     int
	Removed     int
	TempRemoved int
	Freed       int64
}

// Sweep 遍历存储目录，删除已过期或损坏的条目以及残留的临时文件。
func (s *fileStore) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, tempPrefix) {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if now.Sub(info.ModTime()) >= staleTempAge {
				if os.Remove(path) == nil {
					stats.TempRemoved++
					stats.Freed += info.Size()
				}
			}
			return nil
		}

		key := cachekey.Key(name)
		if !key.Valid() {
			return nil
		}
		stats.Scanned++

		freed, removed := s.sweepEntry(key, path, now)
		if removed {
			stats.Removed++
			stats.Freed += freed
		}
		return nil
	})
	return stats, err
}

func (s *fileStore) sweepEntry(key cachekey.Key, path string, now time.Time) (int64, bool) {
	unlock := s.lockEntry(key)
	defer unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	info, statErr := f.Stat()
	meta, offset, err := readFrameHeader(f)
	f.Close()
	if statErr != nil {
		return 0, false
	}

	expired := err != nil ||
		meta.Key != string(key) ||
		offset+meta.Size != info.Size() ||
		!now.Before(meta.ValidUntil)
	if !expired {
		return 0, false
	}
	if err := os.Remove(path); err != nil {
		return 0, false
	}
	return info.Size(), true
}

// RunSweeper 按 interval 周期性执行 Sweep，直到 ctx 结束。interval<=0 时直接返回。
func RunSweeper(ctx context.Context, sw Sweeper, interval time.Duration, logger logrus.FieldLogger) {
	if sw == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats, err := sw.Sweep(ctx, now)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithFields(logrus.Fields{
					"action": "cache_sweep",
					"error":  err.Error(),
				}).Warn("cache_sweep_failed")
				continue
			}
			logger.WithFields(logrus.Fields{
				"action":       "cache_sweep",
				"scanned":      stats.Scanned,
				"removed":      stats.Removed,
				"temp_removed": stats.TempRemoved,
				"freed_bytes":  stats.Freed,
			}).Info("cache_sweep_done")
		}
	}
}
