package locale

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// diskCache persists locale bundles so cold starts have a reasonable
// fallback before the first network refresh completes. Entries are
// addressed by locale tag; the file format is a unix-millis timestamp
// line followed by the raw JSON payload.
type diskCache struct {
	dir        string
	maxEntries int

	mu sync.Mutex
}

func newDiskCache(dir string, maxEntries int) *diskCache {
	if maxEntries <= 0 {
		maxEntries = 32
	}
	return &diskCache{dir: dir, maxEntries: maxEntries}
}

func (d *diskCache) load(key string) (time.Time, []byte, bool) {
	if d == nil || d.dir == "" {
		return time.Time{}, nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := os.ReadFile(d.path(key))
	if err != nil {
		return time.Time{}, nil, false
	}

	line, rest, found := bytes.Cut(raw, []byte("\n"))
	if !found {
		return time.Time{}, nil, false
	}
	millis, err := strconv.ParseInt(strings.TrimSpace(string(line)), 10, 64)
	if err != nil {
		return time.Time{}, nil, false
	}
	return time.UnixMilli(millis), rest, true
}

func (d *diskCache) store(key string, fetchedAt time.Time, data []byte) error {
	if d == nil || d.dir == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0700); err != nil {
		return fmt.Errorf("locale: failed to create cache dir: %w", err)
	}

	payload := append([]byte(strconv.FormatInt(fetchedAt.UnixMilli(), 10)+"\n"), data...)
	tmp := d.path(key) + ".tmp"
	if err := os.WriteFile(tmp, payload, 0600); err != nil {
		return fmt.Errorf("locale: failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, d.path(key)); err != nil {
		return fmt.Errorf("locale: failed to replace cache entry: %w", err)
	}

	d.pruneLocked()
	return nil
}

func (d *diskCache) path(key string) string {
	return filepath.Join(d.dir, sanitizeKey(key)+".json")
}

// pruneLocked keeps the cache bounded by removing the oldest entries.
func (d *diskCache) pruneLocked() {
	entries, err := os.ReadDir(d.dir)
	if err != nil || len(entries) <= d.maxEntries {
		return
	}

	type fileAge struct {
		name    string
		modTime time.Time
	}
	var files []fileAge
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileAge{entry.Name(), info.ModTime()})
	}
	if len(files) <= d.maxEntries {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files[:len(files)-d.maxEntries] {
		os.Remove(filepath.Join(d.dir, f.name))
	}
}

// sanitizeKey restricts cache file names to a safe character set.
func sanitizeKey(key string) string {
	key = strings.ToLower(key)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
