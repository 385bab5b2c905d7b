package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink persists events append-only to one JSON-lines file per UTC
// day, named audit-YYYY-MM-DD.jsonl under the configured directory.
type FileSink struct {
	mu    sync.Mutex
	dir   string
	clock func() time.Time

	// current open file, rotated when the UTC date changes
	file *os.File
	day  string
}

// NewFileSink creates the storage directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("audit: create storage dir: %w", err)
	}
	return &FileSink{dir: dir, clock: time.Now}, nil
}

// SetClock overrides the time source. Intended for tests.
func (s *FileSink) SetClock(clock func() time.Time) { s.clock = clock }

// Write appends one event as a single JSON line to today's file.
func (s *FileSink) Write(e *Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.clock().UTC().Format("2006-01-02")
	if s.file == nil || s.day != day {
		if s.file != nil {
			_ = s.file.Close()
		}
		path := filepath.Join(s.dir, fmt.Sprintf("audit-%s.jsonl", day))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("audit: open %s: %w", path, err)
		}
		s.file = f
		s.day = day
	}

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: append event: %w", err)
	}
	return nil
}

// Close releases the current file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
