package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "groupbot/pkg/logx"
)

// fileStore keeps the audit trail in <prefix>.audit.jsonl (JSON Lines).
// Appends go to the end; PruneAudit rewrites the file through a temp copy.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	path      string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := filepath.Join(dir, base) + ".audit.jsonl"
	af, err := openAppend(auditPath)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: auditPath, auditFile: af}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// RecentAudit scans the whole file. Retention keeps it small.
func (s *fileStore) RecentAudit(ctx context.Context, owner int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil, errors.New("audit file closed")
	}

	var out []AuditEntry
	err := s.scanLocked(ctx, func(e AuditEntry) {
		if e.Owner != owner {
			return
		}
		out = append(out, e)
		if len(out) > limit {
			out = out[1:]
		}
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *fileStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return 0, errors.New("audit file closed")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".audit-*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	var (
		dropped int64
		encErr  error
	)
	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	err = s.scanLocked(ctx, func(e AuditEntry) {
		if e.At.Before(before) {
			dropped++
			return
		}
		if encErr == nil {
			encErr = enc.Encode(e)
		}
	})
	if err == nil {
		err = encErr
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if dropped == 0 {
		return 0, nil
	}

	if err := s.auditFile.Close(); err != nil {
		s.log.Warn("audit close before compact failed", logx.Err(err))
	}
	s.auditFile = nil
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		// Keep appending to the old file.
		af, oerr := openAppend(s.path)
		if oerr == nil {
			s.auditFile = af
		}
		return 0, err
	}
	af, err := openAppend(s.path)
	if err != nil {
		return dropped, err
	}
	s.auditFile = af
	return dropped, nil
}

// scanLocked decodes every line of the audit file. Corrupt lines are skipped.
func (s *fileStore) scanLocked(ctx context.Context, fn func(AuditEntry)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for n := 0; sc.Scan(); n++ {
		if n%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	return sc.Err()
}
