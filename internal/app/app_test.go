package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbot/internal/batch"
	"groupbot/internal/config"
	"groupbot/internal/login"
	"groupbot/internal/remote"
	"groupbot/internal/remote/remotetest"
	"groupbot/internal/storage"
	kit "groupbot/internal/transport"
	"groupbot/internal/transport/telegram/router"
	logx "groupbot/pkg/logx"
)

const owner int64 = 42

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeAdapter) saw(sub string) bool {
	for _, s := range f.texts() {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Remote:  config.RemoteConfig{Members: []string{" BotFather ", ""}},
		Vault:   config.VaultConfig{Dir: filepath.Join(dir, "sessions"), Key: "0123456789abcdef0123456789abcdef"},
		Workers: config.WorkersConfig{MaxConcurrent: 2},
		Batch: config.BatchConfig{
			Size:          3,
			MinDelay:      "1ms",
			MaxDelay:      "2ms",
			ErrorBackoff:  "1ms",
			ProgressEvery: 2,
			TitlePrefix:   "Test Group",
		},
		Login:   config.LoginConfig{IdleTimeout: "15m", SweepEvery: "1m"},
		Storage: &config.StorageConfig{Driver: "file", Path: filepath.Join(dir, "audit.db")},
	}
}

func newTestApp(t *testing.T, factory *remotetest.Factory) (*App, *fakeAdapter) {
	t.Helper()
	ad := &fakeAdapter{}
	a, err := assemble(testConfig(t), logx.Nop(), ad, factory)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.workers.Stop(ctx)
		a.login.CloseAll(ctx)
		_ = a.store.Close()
	})
	return a, ad
}

func auditEvents(t *testing.T, a *App) []string {
	t.Helper()
	entries, err := a.store.RecentAudit(context.Background(), owner, 50)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func waitIdle(t *testing.T, a *App) {
	t.Helper()
	require.Eventually(t, func() bool { return a.workers.Len() == 0 }, 3*time.Second, 5*time.Millisecond)
}

func TestMapBatchSettings(t *testing.T) {
	t.Parallel()
	s, err := mapBatchSettings(testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Size)
	assert.Equal(t, time.Millisecond, s.MinDelay)
	assert.Equal(t, 2*time.Millisecond, s.MaxDelay)
	assert.Equal(t, []string{"BotFather"}, s.Members)

	cfg := testConfig(t)
	cfg.Batch.MaxDelay = "0s"
	_, err = mapBatchSettings(cfg)
	assert.Error(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	sc, retention, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)
	assert.Equal(t, defaultRetention, retention)

	cfg.Storage.Retention = "0s"
	_, retention, _, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Zero(t, retention)

	cfg.Storage.Driver = "none"
	_, _, enabled, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage.Driver = "redis"
	_, _, _, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestHumanDuration(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a moment", humanDuration(0))
	assert.Equal(t, "5 hours", humanDuration(5*time.Hour))
	assert.Equal(t, "10 minutes", humanDuration(10*time.Minute))
}

func TestHistoryLine(t *testing.T) {
	t.Parallel()
	line := historyLine(storage.AuditEntry{
		At:      time.Now().Add(-2 * time.Hour),
		Event:   storage.EventBatchEnd,
		Label:   "work",
		Outcome: "completed",
		Created: 49,
		Failed:  1,
	})
	assert.Equal(t, `2 hours ago · batch.end · "work" · completed (49 created, 1 failed)`, line)
}

func TestStoredSessionStartsBatch(t *testing.T) {
	factory := &remotetest.Factory{Next: func([]byte) *remotetest.Session {
		return &remotetest.Session{IsAuthorized: true}
	}}
	a, ad := newTestApp(t, factory)
	require.NoError(t, a.vault.Save(owner, login.DefaultLabel, []byte("cred")))

	a.startProcess(context.Background(), owner)
	require.Eventually(t, func() bool { return ad.saw("Group creation finished") }, 3*time.Second, 5*time.Millisecond)
	waitIdle(t, a)

	require.Len(t, factory.Made(), 1)
	sess := factory.Made()[0]
	assert.Len(t, sess.Titles(), 3)
	assert.Equal(t, 1, sess.Disconnects())
	assert.Equal(t, []byte("cred"), factory.Credentials()[0])
	assert.True(t, ad.saw(msgResuming))
	assert.True(t, ad.saw("Progress: 2 of 3"))
	assert.True(t, a.vault.Has(owner, login.DefaultLabel))
	assert.Equal(t, []string{storage.EventBatchEnd, storage.EventBatchStart}, auditEvents(t, a))
}

func TestExpiredSessionStartsNewLogin(t *testing.T) {
	factory := &remotetest.Factory{}
	a, ad := newTestApp(t, factory)
	require.NoError(t, a.vault.Save(owner, login.DefaultLabel, []byte("cred")))

	a.startProcess(context.Background(), owner)

	assert.False(t, a.vault.Has(owner, login.DefaultLabel))
	assert.True(t, a.login.Active(owner))
	assert.True(t, ad.saw(msgSessionExpired))
	assert.True(t, ad.saw("phone number"))
	assert.Equal(t, 1, factory.Made()[0].Disconnects())
	assert.Equal(t, []string{storage.EventCredentialGone}, auditEvents(t, a))
}

func TestBannedSessionIsRemoved(t *testing.T) {
	factory := &remotetest.Factory{Next: func([]byte) *remotetest.Session {
		return &remotetest.Session{AuthorizedResult: remote.Fail(remote.Fatal, remote.ReasonBanned, nil)}
	}}
	a, ad := newTestApp(t, factory)
	require.NoError(t, a.vault.Save(owner, login.DefaultLabel, []byte("cred")))

	a.startProcess(context.Background(), owner)

	assert.False(t, a.vault.Has(owner, login.DefaultLabel))
	assert.False(t, a.login.Active(owner))
	assert.True(t, ad.saw(msgSessionBanned))
}

func TestStartWhileLoginActiveIsBusy(t *testing.T) {
	a, ad := newTestApp(t, &remotetest.Factory{})
	ctx := context.Background()

	a.startProcess(ctx, owner)
	require.True(t, a.login.Active(owner))
	a.startProcess(ctx, owner)

	assert.Equal(t, msgBusy, ad.texts()[len(ad.texts())-1])
}

func TestCancel(t *testing.T) {
	a, ad := newTestApp(t, &remotetest.Factory{})
	ctx := context.Background()
	req := &router.Request{FromID: owner, Chat: kit.ChatTarget{ChatID: owner}, Adapter: ad, Logger: logx.Nop()}

	require.NoError(t, a.cmdCancel(ctx, req))
	assert.Equal(t, msgNothingToCancel, ad.texts()[len(ad.texts())-1])

	require.NoError(t, a.login.Begin(ctx, owner))
	require.NoError(t, a.cmdCancel(ctx, req))
	assert.Equal(t, msgCancelled, ad.texts()[len(ad.texts())-1])
	assert.False(t, a.login.Active(owner))
}

func TestCancelStopsRunningBatch(t *testing.T) {
	factory := &remotetest.Factory{Next: func([]byte) *remotetest.Session {
		return &remotetest.Session{IsAuthorized: true}
	}}
	a, ad := newTestApp(t, factory)
	a.settings.Store(&batch.Settings{Size: 50, MinDelay: time.Hour, MaxDelay: time.Hour, TitlePrefix: "Slow"})
	require.NoError(t, a.vault.Save(owner, login.DefaultLabel, []byte("cred")))
	ctx := context.Background()

	a.startProcess(ctx, owner)
	require.Eventually(t, func() bool { return ad.saw("Creating 50 groups") }, 3*time.Second, 5*time.Millisecond)

	a.startProcess(ctx, owner)
	assert.Equal(t, msgBusy, ad.texts()[len(ad.texts())-1])

	req := &router.Request{FromID: owner, Chat: kit.ChatTarget{ChatID: owner}, Adapter: ad, Logger: logx.Nop()}
	require.NoError(t, a.cmdCancel(ctx, req))
	waitIdle(t, a)
	assert.True(t, ad.saw(msgBatchCancelled))
	assert.True(t, a.vault.Has(owner, login.DefaultLabel))
}

func TestInvalidatedBatchDropsCredential(t *testing.T) {
	a, ad := newTestApp(t, &remotetest.Factory{})
	require.NoError(t, a.vault.Save(owner, "work", []byte("cred")))

	start := time.Now()
	run := batch.Run{ID: "r1", Owner: owner, Label: "work"}
	a.reportBatch(context.Background(), batch.Event{
		Type: batch.EventFinished,
		Run:  run,
		Summary: &batch.Summary{
			Run:     run,
			State:   batch.Invalidated,
			Total:   50,
			Created: 7,
			Started: start,
			Ended:   start.Add(time.Hour),
			Last:    remote.Fail(remote.Fatal, remote.ReasonDeauthorized, nil),
		},
	})

	assert.False(t, a.vault.Has(owner, "work"))
	assert.True(t, ad.saw(msgBatchInvalidated))
	assert.True(t, ad.saw(`Group creation finished for "work": 7 created, 0 failed, took 1 hour.`))

	entries, err := a.store.RecentAudit(context.Background(), owner, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, storage.EventCredentialGone, entries[0].Event)
	assert.Equal(t, "deauthorized", entries[0].Detail)
	assert.Equal(t, storage.EventBatchEnd, entries[1].Event)
	assert.Equal(t, 7, entries[1].Created)
	assert.Equal(t, "fatal/deauthorized", entries[1].Detail)
}

func TestHealthSnapshot(t *testing.T) {
	a, _ := newTestApp(t, &remotetest.Factory{})
	require.NoError(t, a.login.Begin(context.Background(), owner))

	h, ok := a.health().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, h["logins"])
	assert.Equal(t, 0, h["batches_running"])
	assert.Equal(t, 2, h["max_workers"])

	require.NoError(t, a.registerHousekeeping(time.Minute))
	h = a.health().(map[string]any)
	jobs, ok := h["housekeeping"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, jobs, jobLoginSweep)
}

func TestDiagRunsHousekeepingJob(t *testing.T) {
	a, _ := newTestApp(t, &remotetest.Factory{})
	require.NoError(t, a.registerHousekeeping(time.Minute))
	require.NoError(t, a.login.Begin(context.Background(), owner))
	a.idle.Store(int64(time.Nanosecond))
	time.Sleep(2 * time.Millisecond)

	rec := httptest.NewRecorder()
	a.diag.Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/run?name="+jobLoginSweep, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, a.login.Active(owner), "sweep ran and discarded the idle login")

	rec = httptest.NewRecorder()
	a.diag.Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/run?name=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
