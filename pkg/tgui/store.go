package tgui

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TokenStore maps short random tokens to values that do not fit in the
// 64-byte callback_data. Entries expire after ttl; when the store is full the
// entry closest to expiry is evicted. Tokens never contain ':'.
type TokenStore[T any] struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]tokenEntry[T]
	lastSweep time.Time
}

type tokenEntry[T any] struct {
	v   T
	exp time.Time
}

// NewTokenStore returns a store. ttl <= 0 means 15m, limit <= 0 means 5000.
func NewTokenStore[T any](ttl time.Duration, limit int) *TokenStore[T] {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if limit <= 0 {
		limit = 5000
	}
	return &TokenStore[T]{ttl: ttl, max: limit, now: time.Now, entries: map[string]tokenEntry[T]{}}
}

// Put stores v and returns its token ("~" + 8 base64url chars).
func (s *TokenStore[T]) Put(v T) string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	if len(s.entries) >= s.max {
		s.evictLocked()
	}
	for {
		tok := newToken()
		if _, taken := s.entries[tok]; taken {
			continue
		}
		s.entries[tok] = tokenEntry[T]{v: v, exp: now.Add(s.ttl)}
		return tok
	}
}

// Get returns the value for tok unless it is unknown or expired.
func (s *TokenStore[T]) Get(tok string) (T, bool) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tok]
	if !ok {
		return zero, false
	}
	if s.now().After(e.exp) {
		delete(s.entries, tok)
		return zero, false
	}
	return e.v, true
}

func (s *TokenStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweepLocked drops expired entries at most once a minute.
func (s *TokenStore[T]) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for k, e := range s.entries {
		if now.After(e.exp) {
			delete(s.entries, k)
		}
	}
}

func (s *TokenStore[T]) evictLocked() {
	var (
		oldest string
		exp    time.Time
	)
	for k, e := range s.entries {
		if oldest == "" || e.exp.Before(exp) {
			oldest, exp = k, e.exp
		}
	}
	delete(s.entries, oldest)
}

func newToken() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return "~" + base64.RawURLEncoding.EncodeToString(b[:])
}
