package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RotatingLogger is an io.Writer over weekly log files. A week's file is split
// into numbered parts once it reaches maxFileSize.
type RotatingLogger struct {
	logDir      string
	prefix      string
	currentFile *os.File
	currentWeek string
	retention   time.Duration
	maxFileSize int64
	currentSize atomic.Int64
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	cleanupDone chan struct{}
	cleanupOn   atomic.Bool
	partPattern *regexp.Regexp
}

// NewRotatingLogger creates a rotating logger. A maxFileSize of 0 disables
// size based rotation.
func NewRotatingLogger(logDir, prefix string, retentionWeeks int, maxFileSize int64) *RotatingLogger {
	if prefix == "" {
		prefix = "app"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RotatingLogger{
		logDir:      logDir,
		prefix:      prefix,
		retention:   time.Duration(retentionWeeks) * 7 * 24 * time.Hour,
		maxFileSize: maxFileSize,
		ctx:         ctx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
		partPattern: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-\d{4}-W\d{2}_(\d{2})\.log$`),
	}
}

// weekKey returns the ISO week in YYYY-Www format
func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func (rl *RotatingLogger) baseName(week string) string {
	return fmt.Sprintf("%s-%s.log", rl.prefix, week)
}

// open picks the file for week and opens it for append. Caller holds mu.
func (rl *RotatingLogger) open(week string, sizeExceeded bool) error {
	if rl.currentFile != nil {
		if err := rl.currentFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file during rotation: %v\n", err)
		}
		rl.currentFile = nil
	}

	name := rl.pickFile(week, sizeExceeded)
	path := filepath.Join(rl.logDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	rl.currentFile = file
	rl.currentWeek = week
	rl.currentSize.Store(0)
	if info, err := file.Stat(); err == nil {
		rl.currentSize.Store(info.Size())
	}
	return nil
}

// pickFile returns the base file while it has room, otherwise the highest
// numbered part with room, otherwise the next part number.
func (rl *RotatingLogger) pickFile(week string, sizeExceeded bool) string {
	base := rl.baseName(week)
	if !sizeExceeded {
		info, err := os.Stat(filepath.Join(rl.logDir, base))
		if err != nil || rl.maxFileSize == 0 || info.Size() < rl.maxFileSize {
			return base
		}
	}

	highest := 0
	var highestSize int64
	matches, _ := filepath.Glob(filepath.Join(rl.logDir, rl.prefix+"-"+week+"_??.log"))
	for _, match := range matches {
		m := rl.partPattern.FindStringSubmatch(filepath.Base(match))
		if len(m) < 2 {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		if num > highest {
			highest = num
			highestSize = 0
			if info, err := os.Stat(match); err == nil {
				highestSize = info.Size()
			}
		}
	}

	if highest > 0 && !sizeExceeded && highestSize < rl.maxFileSize {
		return fmt.Sprintf("%s-%s_%02d.log", rl.prefix, week, highest)
	}
	return fmt.Sprintf("%s-%s_%02d.log", rl.prefix, week, highest+1)
}

// Write writes p to the current file, rotating first when the week changed or
// the write would exceed the size limit.
func (rl *RotatingLogger) Write(p []byte) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	week := weekKey(time.Now())
	sizeExceeded := false
	if rl.currentFile != nil && rl.currentWeek == week && rl.maxFileSize > 0 {
		size := rl.currentSize.Load()
		sizeExceeded = size > 0 && size+int64(len(p)) > rl.maxFileSize
	}

	if rl.currentFile == nil || rl.currentWeek != week || sizeExceeded {
		if err := rl.open(week, sizeExceeded); err != nil {
			return 0, err
		}
	}

	n, err := rl.currentFile.Write(p)
	rl.currentSize.Add(int64(n))
	return n, err
}

// cleanupOldLogs removes this logger's files older than the retention period
func (rl *RotatingLogger) cleanupOldLogs() (int, error) {
	entries, err := os.ReadDir(rl.logDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := time.Now().Add(-rl.retention)
	deleted := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, rl.prefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(rl.logDir, name)); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// startCleanup prunes old files once a day until Close is called
func (rl *RotatingLogger) startCleanup() {
	rl.cleanupOn.Store(true)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		defer close(rl.cleanupDone)

		for {
			select {
			case <-rl.ctx.Done():
				return
			case <-ticker.C:
				if n, err := rl.cleanupOldLogs(); err != nil {
					fmt.Fprintf(os.Stderr, "failed to cleanup old logs: %v\n", err)
				} else if n > 0 {
					fmt.Printf("Cleaned up %d old log files\n", n)
				}
			}
		}
	}()
}

// Close stops background cleanup and closes the current file
func (rl *RotatingLogger) Close() error {
	rl.cancel()

	if rl.cleanupOn.Load() {
		select {
		case <-rl.cleanupDone:
		case <-time.After(time.Second):
		}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.currentFile != nil {
		err := rl.currentFile.Close()
		rl.currentFile = nil
		return err
	}
	return nil
}
