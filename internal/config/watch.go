package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "groupbot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchRetryMin   = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
	watchHealthyFor = 30 * time.Second
)

var errWatcherClosed = errors.New("config watcher closed")

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename keep working. A broken watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	retry := watchRetryMin
	for {
		started := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > watchHealthyFor {
			retry = watchRetryMin
		}
		wait := retry/2 + rand.N(retry/2+1)
		m.log.Warn("config watcher restarting", logx.Err(err), logx.Duration("in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		retry = min(retry*2, watchRetryMax)
	}
}

func (m *ConfigManager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(m.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	name := filepath.Base(abs)

	// The timer starts stopped; each matching event pushes the reload out.
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watcher overflow; reloading")
				debounce.Reset(reloadDebounce)
				continue
			}
			return err
		case <-debounce.C:
			m.reload(ctx)
		}
	}
}
