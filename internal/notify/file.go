package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File writes events to a rotating log file.
type File struct {
	path       string
	format     string
	enabled    bool
	rotate     bool
	maxSizeMB  int
	maxBackups int

	mu   sync.Mutex
	file *os.File
}

// NewFile creates a new file notifier.
func NewFile(cfg Config) (*File, error) {
	path := "/var/log/meshcore-companion/events.log"
	if p, ok := cfg.Options["path"].(string); ok {
		path = p
	}

	format := "json"
	if f, ok := cfg.Options["format"].(string); ok {
		format = f
	}

	rotate := true
	if r, ok := cfg.Options["rotate"].(bool); ok {
		rotate = r
	}

	maxSizeMB := 100
	switch m := cfg.Options["max_size_mb"].(type) {
	case int:
		maxSizeMB = m
	case float64:
		maxSizeMB = int(m)
	}

	maxBackups := 5
	switch m := cfg.Options["max_backups"].(type) {
	case int:
		maxBackups = m
	case float64:
		maxBackups = int(m)
	}

	f := &File{
		path:       path,
		format:     format,
		enabled:    cfg.Enabled,
		rotate:     rotate,
		maxSizeMB:  maxSizeMB,
		maxBackups: maxBackups,
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log file: %w", err)
	}
	f.file = file

	return f, nil
}

func (f *File) Send(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rotate {
		if err := f.checkRotation(); err != nil {
			return err
		}
	}

	var line string
	if f.format == "json" {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		line = string(data) + "\n"
	} else {
		line = fmt.Sprintf("[%s] %s\n", ev.Time.Format("2006-01-02T15:04:05Z07:00"), formatText(ev))
	}

	_, err := f.file.WriteString(line)
	return err
}

func (f *File) checkRotation() error {
	info, err := f.file.Stat()
	if err != nil {
		return err
	}

	maxBytes := int64(f.maxSizeMB) * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}

	_ = f.file.Close()

	for i := f.maxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", f.path, i)
		newPath := fmt.Sprintf("%s.%d", f.path, i+1)
		_ = os.Rename(oldPath, newPath)
	}

	_ = os.Rename(f.path, f.path+".1")

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	f.file = file

	return nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

func (f *File) Name() string { return fmt.Sprintf("file:%s", f.path) }

func (f *File) Enabled() bool { return f.enabled }
