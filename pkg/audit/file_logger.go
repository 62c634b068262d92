package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Active and rotated file names inside FileLoggerConfig.BasePath
const (
	ActiveFileName = "appmesh-audit.jsonl"
	rotatedPattern = "appmesh-audit-*.jsonl"
	rotatedLayout  = "20060102T150405.000000000"
)

var errClosed = errors.New("audit log is closed")

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Directory holding the audit files
	Rotate   bool   // Rotate when the active file reaches MaxSize
	MaxSize  int64  // Bytes per file, 100MB when zero
	MaxFiles int    // Rotated files kept, 10 when zero
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/appmesh/audit",
		Rotate:   true,
		MaxSize:  100 << 20,
		MaxFiles: 10,
	}
}

// FileLogger appends one JSON object per line to ActiveFileName. With
// rotation enabled the active file is renamed with a UTC timestamp once a
// write would push it past MaxSize, and only the newest MaxFiles rotated
// files are kept.
type FileLogger struct {
	cfg FileLoggerConfig
	now func() time.Time

	mu      sync.Mutex
	file    *os.File
	written int64
}

// NewFileLogger creates BasePath if needed and opens the active file
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 << 20
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{cfg: cfg, now: time.Now}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) activePath() string {
	return filepath.Join(l.cfg.BasePath, ActiveFileName)
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	l.file = file
	l.written = info.Size()
	return nil
}

// Log appends event as a single line
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errClosed
	}
	if l.cfg.Rotate && l.written > 0 && l.written+int64(len(line)) > l.cfg.MaxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(line)
	l.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}
	l.file = nil

	rotated := filepath.Join(l.cfg.BasePath, "appmesh-audit-"+l.now().UTC().Format(rotatedLayout)+".jsonl")
	if err := os.Rename(l.activePath(), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	if err := l.prune(); err != nil {
		return err
	}
	return l.open()
}

// prune keeps the newest MaxFiles rotated files. Timestamped names sort
// chronologically.
func (l *FileLogger) prune() error {
	files, err := filepath.Glob(filepath.Join(l.cfg.BasePath, rotatedPattern))
	if err != nil || len(files) <= l.cfg.MaxFiles {
		return err
	}

	sort.Strings(files)
	for _, file := range files[:len(files)-l.cfg.MaxFiles] {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove old audit log %s: %w", file, err)
		}
	}
	return nil
}

// Close closes the active file. Later writes fail.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// Tail returns the last count events of the active file, oldest first. A
// count of zero returns every event.
func (l *FileLogger) Tail(count int) ([]*Event, error) {
	file, err := os.Open(l.activePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	for scanner.Scan() {
		event, err := FromJSON(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, event)
		if count > 0 && len(events) > count {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return events, nil
}
