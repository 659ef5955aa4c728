// Copyright 2025 James Ross
// AuditLogger persists admin mutations to a size-rotated JSON-lines file and
// keeps a bounded in-memory ring for GET /admin/audit, which needs to answer
// queries without re-reading disk. The rotation mechanics (size check,
// timestamp-suffixed rename, oldest-backup cleanup) are carried over from
// the teacher's admin-api audit logger near-verbatim; the ring buffer is new
// since the teacher's endpoint never served audit history back out, only
// appended to it.
package adminapi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type AuditLogger struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	maxSize     int64
	maxBackups  int
	currentSize int64

	ring     []AuditEntry
	ringCap  int
	ringNext int
}

// NewAuditLogger opens (creating if needed) the audit log file at path.
func NewAuditLogger(path string, maxSize int64, maxBackups, ringCap int) (*AuditLogger, error) {
	if ringCap <= 0 {
		ringCap = 256
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("adminapi: create audit log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("adminapi: open audit log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("adminapi: stat audit log: %w", err)
	}
	return &AuditLogger{
		file:        file,
		path:        path,
		maxSize:     maxSize,
		maxBackups:  maxBackups,
		currentSize: stat.Size(),
		ringCap:     ringCap,
	}, nil
}

// Log appends entry to disk and the in-memory ring.
func (l *AuditLogger) Log(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("adminapi: marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	if l.maxSize > 0 && l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("adminapi: rotate audit log: %w", err)
		}
	}
	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("adminapi: write audit entry: %w", err)
	}
	l.currentSize += int64(n)

	if len(l.ring) < l.ringCap {
		l.ring = append(l.ring, entry)
	} else {
		l.ring[l.ringNext] = entry
		l.ringNext = (l.ringNext + 1) % l.ringCap
	}
	return nil
}

// Recent returns up to limit of the most recently logged entries, newest
// first; limit ≤ 0 means "all retained in the ring".
func (l *AuditLogger) Recent(limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AuditEntry, len(l.ring))
	copy(out, l.ring)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (l *AuditLogger) rotate() error {
	l.file.Close()
	newPath := fmt.Sprintf("%s.%s", l.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(l.path, newPath); err != nil {
		return err
	}
	l.cleanupBackups()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentSize = 0
	return nil
}

func (l *AuditLogger) cleanupBackups() {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil || len(matches) <= l.maxBackups {
		return
	}
	sort.Slice(matches, func(i, j int) bool {
		si, _ := os.Stat(matches[i])
		sj, _ := os.Stat(matches[j])
		if si == nil || sj == nil {
			return false
		}
		return si.ModTime().Before(sj.ModTime())
	})
	for _, m := range matches[:len(matches)-l.maxBackups] {
		os.Remove(m)
	}
}

// Close closes the underlying file.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
