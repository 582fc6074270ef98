package mtproto

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// memStorage keeps the gotd session in memory; the vault persists it via Export.
type memStorage struct {
	mu   sync.Mutex
	data []byte
}

var _ session.Storage = (*memStorage)(nil)

func newMemStorage(data []byte) *memStorage {
	return &memStorage{data: append([]byte(nil), data...)}
}

func (s *memStorage) LoadSession(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	s.data = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *memStorage) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}
