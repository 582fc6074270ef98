package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "groupbot/internal/transport"
)

const (
	relayQueue    = 256
	relayMaxText  = 3500
	relayMaxValue = 600
)

// chatRelay is a zerolog sink that forwards lines at or above a level to an
// operator chat. It is rate limited and drops lines instead of blocking.
type chatRelay struct {
	queue chan string

	mu       sync.Mutex
	sender   kit.Adapter
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

func newChatRelay(sender kit.Adapter) *chatRelay {
	return &chatRelay{queue: make(chan string, relayQueue), sender: sender, minLevel: zerolog.WarnLevel}
}

func (r *chatRelay) setSender(sender kit.Adapter) {
	r.mu.Lock()
	r.sender = sender
	r.mu.Unlock()
}

// configure applies cfg and starts the delivery goroutine on first enable.
func (r *chatRelay) configure(cfg TelegramConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatID = cfg.ChatID
	r.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.RatePerSec)
	r.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if !cfg.Enabled || r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel, r.done = cancel, make(chan struct{})
	go r.deliver(ctx, r.done)
}

func (r *chatRelay) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *chatRelay) deliver(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-r.queue:
			r.mu.Lock()
			sender, chatID := r.sender, r.chatID
			r.mu.Unlock()
			if sender == nil || chatID == 0 {
				continue
			}
			_, _ = sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
		}
	}
}

func (r *chatRelay) Write(p []byte) (int, error) { return r.WriteLevel(zerolog.InfoLevel, p) }

func (r *chatRelay) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	r.mu.Lock()
	ok := r.chatID != 0 && level >= r.minLevel && r.limiter != nil && r.limiter.Allow()
	r.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := formatRelayLine(p); text != "" {
		select {
		case r.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// formatRelayLine turns a JSON log line into "[LEVEL] message" followed by
// one "- key=value" line per field, sorted by key.
func formatRelayLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, relayMaxText)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(m, zerolog.LevelFieldName)
	delete(m, zerolog.MessageFieldName)
	delete(m, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), relayMaxValue))
	}
	return clip(b.String(), relayMaxText)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
