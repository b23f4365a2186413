// Package audit provides the JSON Lines audit trail: an append-only file
// mirror of the audit store with daily rotation, size caps, retention
// cleanup, and a ring cache of recent entries.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
)

// trailFilePattern matches trail filenames: trail-YYYY-MM-DD.jsonl or
// trail-YYYY-MM-DD-N.jsonl.
var trailFilePattern = regexp.MustCompile(`^trail-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

// trailFileInfo holds the parsed components of a trail filename.
type trailFileInfo struct {
	name   string
	date   string
	suffix int
}

func parseTrailFilename(name string) (trailFileInfo, bool) {
	matches := trailFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return trailFileInfo{}, false
	}
	info := trailFileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return trailFileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortTrailFiles orders trail files chronologically: by date, then suffix.
func sortTrailFiles(files []trailFileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// TrailConfig configures the file trail.
type TrailConfig struct {
	// Dir is the directory holding trail files.
	Dir string
	// RetentionDays is how long rotated files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB triggers size rotation within a day (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent entries held in memory (default 1000).
	CacheSize int
}

// Trail is the file-backed audit trail. Writes are serialized; the caller
// (the audit service's background worker) already batches them off the
// request path.
type Trail struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	cache         *ringCache
	mu            sync.Mutex
	logger        *slog.Logger
	cancel        context.CancelFunc
	closed        bool
}

// NewTrail opens the trail: creates the directory, opens today's file,
// runs retention cleanup, warms the cache from the most recent file, and
// starts the hourly cleanup goroutine.
func NewTrail(cfg TrailConfig, logger *slog.Logger) (*Trail, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create trail directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Trail{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		cache:         newRingCache(cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := t.openCurrentFile(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open trail file: %w", err)
	}

	t.runCleanup()
	t.warmCache()
	go t.cleanupLoop(ctx)

	return t, nil
}

// Write appends entries as JSON lines, rotating by date and size as needed.
func (t *Trail) Write(_ context.Context, entries ...*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entries {
		dateStr := e.Timestamp.UTC().Format("2006-01-02")
		if dateStr != t.currentDate {
			if err := t.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if t.currentSize >= t.maxFileSize {
			if err := t.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal trail entry: %w", err)
		}
		line := append(data, '\n')
		n, err := t.currentFile.Write(line)
		if err != nil {
			return fmt.Errorf("write trail entry: %w", err)
		}
		t.currentSize += int64(n)
		t.cache.Add(e)
	}
	return nil
}

// Flush syncs the current file to disk.
func (t *Trail) Flush(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentFile != nil {
		return t.currentFile.Sync()
	}
	return nil
}

// Close stops the cleanup goroutine and closes the current file. Idempotent.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()

	if t.currentFile != nil {
		_ = t.currentFile.Sync()
		err := t.currentFile.Close()
		t.currentFile = nil
		return err
	}
	return nil
}

// Recent returns the last n entries from the cache, newest first.
func (t *Trail) Recent(n int) []*audit.Entry {
	return t.cache.Recent(n)
}

// openCurrentFile opens today's file, resuming the highest existing suffix.
func (t *Trail) openCurrentFile(dateStr string) error {
	suffix := t.findHighestSuffix(dateStr)
	f, size, err := t.openFile(dateStr, suffix)
	if err != nil {
		return err
	}
	t.currentFile = f
	t.currentDate = dateStr
	t.currentSize = size
	t.currentSuffix = suffix
	return nil
}

func (t *Trail) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseTrailFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (t *Trail) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := t.buildFilename(dateStr, suffix)
	path := filepath.Join(t.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}
	return f, info.Size(), nil
}

func (t *Trail) buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("trail-%s.jsonl", dateStr)
	}
	return fmt.Sprintf("trail-%s-%d.jsonl", dateStr, suffix)
}

// rotateDateLocked switches to a fresh file for the new date.
// Must be called with t.mu held.
func (t *Trail) rotateDateLocked(dateStr string) error {
	if t.currentFile != nil {
		_ = t.currentFile.Sync()
		_ = t.currentFile.Close()
		t.currentFile = nil
	}
	t.currentSuffix = 0
	t.currentSize = 0
	t.currentDate = dateStr

	f, size, err := t.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	t.currentFile = f
	t.currentSize = size
	return nil
}

// rotateSizeLocked switches to the next suffix within the current date.
// Must be called with t.mu held.
func (t *Trail) rotateSizeLocked() error {
	if t.currentFile != nil {
		_ = t.currentFile.Sync()
		_ = t.currentFile.Close()
		t.currentFile = nil
	}
	t.currentSuffix++
	t.currentSize = 0

	f, size, err := t.openFile(t.currentDate, t.currentSuffix)
	if err != nil {
		return err
	}
	t.currentFile = f
	t.currentSize = size
	return nil
}

// runCleanup deletes trail files older than the retention period.
func (t *Trail) runCleanup() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Error("trail cleanup: read directory", "dir", t.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -t.retentionDays)
	deleted := 0
	for _, e := range entries {
		info, ok := parseTrailFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			path := filepath.Join(t.dir, e.Name())
			if err := os.Remove(path); err != nil {
				t.logger.Error("trail cleanup: delete file", "file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}
	if deleted > 0 {
		t.logger.Info("trail cleanup completed", "deleted", deleted)
	}
}

func (t *Trail) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runCleanup()
		}
	}
}

// warmCache fills the ring cache from the most recent trail file so Recent
// works across restarts.
func (t *Trail) warmCache() {
	mostRecent := t.findMostRecentFile()
	if mostRecent == "" {
		return
	}

	path := filepath.Join(t.dir, mostRecent)
	f, err := os.Open(path)
	if err != nil {
		t.logger.Error("trail cache: open file", "file", mostRecent, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var entries []*audit.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			t.logger.Warn("trail cache: skipping malformed line", "file", mostRecent, "error", err)
			continue
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Error("trail cache: read file", "file", mostRecent, "error", err)
	}

	start := 0
	if len(entries) > t.cache.size {
		start = len(entries) - t.cache.size
	}
	for _, e := range entries[start:] {
		t.cache.Add(e)
	}
}

// findMostRecentFile returns the newest non-empty trail file, or "".
func (t *Trail) findMostRecentFile() string {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return ""
	}

	var files []trailFileInfo
	for _, e := range entries {
		info, ok := parseTrailFilename(e.Name())
		if !ok {
			continue
		}
		finfo, err := e.Info()
		if err != nil || finfo.Size() == 0 {
			continue
		}
		files = append(files, info)
	}
	if len(files) == 0 {
		return ""
	}
	sortTrailFiles(files)
	return files[len(files)-1].name
}

// ringCache is a ring buffer of recent entries for fast diagnostics access.
type ringCache struct {
	entries []*audit.Entry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

func newRingCache(size int) *ringCache {
	if size <= 0 {
		size = 1000
	}
	return &ringCache{
		entries: make([]*audit.Entry, size),
		size:    size,
	}
}

// Add inserts an entry, overwriting the oldest when full.
func (c *ringCache) Add(e *audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[c.head] = e
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// Recent returns the last n entries, newest first.
func (c *ringCache) Recent(n int) []*audit.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}
	result := make([]*audit.Entry, n)
	for i := 0; i < n; i++ {
		// head points to the next write slot, so head-1 is most recent
		idx := (c.head - 1 - i + c.size) % c.size
		result[i] = c.entries[idx]
	}
	return result
}

// Len returns the number of cached entries.
func (c *ringCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
