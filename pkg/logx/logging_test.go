package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "groupbot/internal/transport"
)

func TestMaskPhone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "+15551234567", want: "+1********67"},
		{in: "1234", want: "***"},
		{in: "", want: "***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskPhone(tt.in), "MaskPhone(%q)", tt.in)
	}
}

func TestWriterLoggerCarriesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int64("owner", 42), Phone("phone", "+15551234567"))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.EqualValues(t, 42, m["owner"])
	assert.Equal(t, "+1********67", m["phone"])
	assert.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped")
	assert.False(t, Nop().IsZero())
}

func TestFormatRelayLine(t *testing.T) {
	t.Parallel()
	out := formatRelayLine([]byte(`{"level":"warn","message":"batch stopped","owner":7,"time":"x"}`))
	assert.Equal(t, "[WARN] batch stopped\n- owner=7", out)
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	assert.True(t, ValidLevel("info"))
	assert.True(t, ValidLevel(""))
	assert.False(t, ValidLevel("loud"))
}

type chatSink struct {
	mu    sync.Mutex
	texts []string
}

func (c *chatSink) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *chatSink) Stop(context.Context) error                     { return nil }
func (c *chatSink) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (c *chatSink) AnswerCallback(context.Context, string, string) error { return nil }

func (c *chatSink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(c.texts)}, nil
}

func (c *chatSink) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func TestServiceRelaysWarningsToOperatorChat(t *testing.T) {
	t.Parallel()
	sink := &chatSink{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, ChatID: 99, RatePerSec: 10}}, nil)
	defer svc.Close()
	svc.SetSender(sink)

	log.Info("quiet")
	log.Warn("login failed", Int64("owner", 7))

	require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.sent()[0]
	assert.True(t, strings.HasPrefix(got, "[WARN] login failed"), got)
	assert.Contains(t, got, "- owner=7")
}
