package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "groupbot/pkg/logx"
)

func TestHealthzReportsSnapshot(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), func() any { return map[string]int{"batches": 2} })
	rec := httptest.NewRecorder()
	s.Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body["batches"])
}

func TestTokenIsRequiredWhenSet(t *testing.T) {
	t.Parallel()
	h := New(logx.Nop(), nil).Handler("s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=s3cret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunJobEndpoint(t *testing.T) {
	t.Parallel()
	var ran []string
	s := New(logx.Nop(), nil)
	s.SetRunner(func(name string) bool {
		if name != "audit.prune" {
			return false
		}
		ran = append(ran, name)
		return true
	})
	h := s.Handler("")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/run?name=audit.prune", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/run?name=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/run?name=audit.prune", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ran":"audit.prune"}`, rec.Body.String())
	assert.Equal(t, []string{"audit.prune"}, ran)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"nonsense":       false,
	} {
		assert.Equal(t, want, IsLoopbackAddr(addr), addr)
	}
}

func TestReconfigureStartsAndStops(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), nil)
	ctx := context.Background()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "ok")

	s.Reconfigure(ctx, Config{})
	assert.Empty(t, s.Addr())
}
