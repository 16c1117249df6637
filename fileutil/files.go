package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DatePrefixed returns name prefixed with the day of t, e.g. 2024_05_01_vmstats.csv.
// ext is appended when name has no extension of its own.
func DatePrefixed(name, ext string, t time.Time) string {
	if filepath.Ext(name) == "" {
		name += ext
	}
	return t.Format("2006_01_02") + "_" + name
}

// Prune removes regular files in dir whose name contains match and whose
// modification time is older than retentionDays before now.
// A retentionDays of zero keeps everything.
func Prune(dir, match string, retentionDays int, now time.Time) ([]string, error) {
	if retentionDays <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s failed: %w", dir, err)
	}

	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	var removed []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.Contains(entry.Name(), match) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s failed: %w", path, err)
		}
		removed = append(removed, path)
	}

	return removed, nil
}
