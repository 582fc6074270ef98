// Package accounts lists, starts, stops and deletes an owner's stored accounts
// and renders the inline account menu.
package accounts

import (
	"fmt"
	"time"

	"groupbot/internal/worker"
	logx "groupbot/pkg/logx"
	"groupbot/pkg/tgui"
)

// Vault is the subset of *vault.Vault used here.
type Vault interface {
	Labels(owner int64) ([]string, error)
	Delete(owner int64, label string) (bool, error)
}

// Workers is the subset of *worker.Scheduler used here.
type Workers interface {
	Running(key worker.Key) bool
	Cancel(key worker.Key) bool
}

type Outcome int

const (
	NothingToDo Outcome = iota
	Deleted
	StoppedOnly
	DeletedAndStopped
)

func (o Outcome) String() string {
	switch o {
	case NothingToDo:
		return "nothing_to_do"
	case Deleted:
		return "deleted"
	case StoppedOnly:
		return "stopped_only"
	case DeletedAndStopped:
		return "deleted_and_stopped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Entry is one account with its live status at listing time.
type Entry struct {
	Label   string
	Running bool
}

type Manager struct {
	vault   Vault
	workers Workers
	tokens  *tgui.TokenStore[ref]
	log     logx.Logger
}

func New(v Vault, w Workers, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		vault:   v,
		workers: w,
		tokens:  tgui.NewTokenStore[ref](time.Hour, 0),
		log:     log.With(logx.String("comp", "accounts")),
	}
}

// List returns the owner's accounts sorted by label.
func (m *Manager) List(owner int64) ([]Entry, error) {
	labels, err := m.vault.Labels(owner)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(labels))
	for _, l := range labels {
		out = append(out, Entry{Label: l, Running: m.workers.Running(worker.Key{Owner: owner, Label: l})})
	}
	return out, nil
}

// Stop cancels the account's running batch without waiting for it.
func (m *Manager) Stop(owner int64, label string) bool {
	return m.workers.Cancel(worker.Key{Owner: owner, Label: label})
}

// Delete stops a running batch first, then removes the stored credential.
func (m *Manager) Delete(owner int64, label string) (Outcome, error) {
	stopped := m.workers.Cancel(worker.Key{Owner: owner, Label: label})
	removed, err := m.vault.Delete(owner, label)
	if err != nil {
		m.log.Error("delete credential failed", logx.Int64("owner", owner), logx.String("label", label), logx.Err(err))
		if stopped {
			return StoppedOnly, err
		}
		return NothingToDo, err
	}
	var out Outcome
	switch {
	case stopped && removed:
		out = DeletedAndStopped
	case stopped:
		out = StoppedOnly
	case removed:
		out = Deleted
	default:
		out = NothingToDo
	}
	m.log.Info("account delete", logx.Int64("owner", owner), logx.String("label", label), logx.String("outcome", out.String()))
	return out, nil
}
