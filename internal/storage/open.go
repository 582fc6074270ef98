package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "groupbot/pkg/logx"
)

// Store keeps the audit trail behind /history.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries of owner, newest first.
	RecentAudit(ctx context.Context, owner int64, limit int) ([]AuditEntry, error)
	// PruneAudit drops entries older than before and returns how many were removed.
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or nil when the driver is empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", name)))
}
