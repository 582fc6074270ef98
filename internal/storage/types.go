package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit event names.
const (
	EventLogin          = "login.ok"
	EventBatchStart     = "batch.start"
	EventBatchEnd       = "batch.end"
	EventAccountDelete  = "account.delete"
	EventCredentialGone = "credential.invalidated"
)

// AuditEntry records one lifecycle event of an owner's account.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Owner   int64     `json:"owner"`
	Label   string    `json:"label,omitempty"`
	Event   string    `json:"event"`
	RunID   string    `json:"run_id,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Created int       `json:"created,omitempty"`
	Failed  int       `json:"failed,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}
