package utilities

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RawLog appends raw frames to a daily file <dir>/<prefix>_YYYYMMDD.log.
// A RawLog with an empty dir does nothing.
type RawLog struct {
	dir    string
	prefix string
	now    func() time.Time

	mu sync.Mutex
}

func NewRawLog(dir, prefix string) *RawLog {
	return &RawLog{dir: dir, prefix: prefix, now: time.Now}
}

// Frame writes one line: time, origin and the frame as hex.
func (l *RawLog) Frame(origin string, frame []byte) error {
	if l == nil || l.dir == "" {
		return nil
	}
	return l.CreateLog(origin + " " + hex.EncodeToString(frame))
}

// CreateLog appends message to today's file, creating the directory if needed.
func (l *RawLog) CreateLog(message string) error {
	now := l.now()
	filename := filepath.Join(l.dir, l.prefix+"_"+now.Format("20060102")+".log")

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("raw log dir: %w", err)
	}
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("raw log open: %w", err)
	}
	defer f.Close()

	logLine := now.Format("15:04:05") + " - " + message + "\n"
	if _, err := f.WriteString(logLine); err != nil {
		return fmt.Errorf("raw log write: %w", err)
	}
	return nil
}
