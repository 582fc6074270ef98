// Package remotetest provides a scripted remote.Session for tests.
package remotetest

import (
	"context"
	"sync"

	"groupbot/internal/remote"
)

// Session replays scripted results. Zero value answers OK to everything.
type Session struct {
	mu sync.Mutex

	ConnectResult    remote.Result
	IsAuthorized     bool
	AuthorizedResult remote.Result
	CodeHash         string
	RequestResult    remote.Result
	// SignInResults and PasswordResults are consumed in order; once empty every call is OK.
	SignInResults   []remote.Result
	PasswordResults []remote.Result
	// CreateFunc answers the n-th call (1-based, counting retries). Nil means OK.
	CreateFunc func(call int, title string) remote.Result
	Credential []byte

	connected   bool
	calls       []string
	titles      []string
	creates     int
	disconnects int
}

var _ remote.Session = (*Session)(nil)

func (s *Session) record(name string) {
	s.calls = append(s.calls, name)
}

func (s *Session) Connect(context.Context) remote.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("connect")
	if s.ConnectResult.OK() {
		s.connected = true
	}
	return s.ConnectResult
}

func (s *Session) Disconnect(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("disconnect")
	s.disconnects++
	s.connected = false
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Authorized(context.Context) (bool, remote.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("authorized")
	return s.IsAuthorized, s.AuthorizedResult
}

func (s *Session) RequestCode(_ context.Context, phone string) (string, remote.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("request_code:" + phone)
	if !s.RequestResult.OK() {
		return "", s.RequestResult
	}
	hash := s.CodeHash
	if hash == "" {
		hash = "hash"
	}
	return hash, remote.Ok()
}

func (s *Session) SignIn(_ context.Context, _, code, _ string) remote.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("sign_in:" + code)
	return pop(&s.SignInResults)
}

func (s *Session) SignInPassword(_ context.Context, password string) remote.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("password")
	return pop(&s.PasswordResults)
}

func (s *Session) CreateGroup(_ context.Context, _ []string, title string) remote.Result {
	s.mu.Lock()
	s.creates++
	n := s.creates
	fn := s.CreateFunc
	s.mu.Unlock()

	res := remote.Ok()
	if fn != nil {
		res = fn(n, title)
	}
	if res.OK() {
		s.mu.Lock()
		s.titles = append(s.titles, title)
		s.mu.Unlock()
	}
	return res
}

func (s *Session) Export(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Credential == nil {
		return []byte("credential"), nil
	}
	return append([]byte(nil), s.Credential...), nil
}

// Calls returns the recorded call names in order (create-group calls excluded).
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Titles returns the titles of successfully created groups.
func (s *Session) Titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

// CreateCalls counts every create-group call, including failed ones.
func (s *Session) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *Session) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

func pop(q *[]remote.Result) remote.Result {
	if len(*q) == 0 {
		return remote.Ok()
	}
	r := (*q)[0]
	*q = (*q)[1:]
	return r
}

// Factory hands out sessions built by Next and remembers the credentials it was given.
type Factory struct {
	mu sync.Mutex

	Next func(credential []byte) *Session
	Err  error

	made        []*Session
	credentials [][]byte
}

var _ remote.Factory = (*Factory)(nil)

func (f *Factory) New(_ context.Context, credential []byte) (remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var s *Session
	if f.Next != nil {
		s = f.Next(credential)
	}
	if s == nil {
		s = &Session{}
	}
	f.made = append(f.made, s)
	f.credentials = append(f.credentials, credential)
	return s, nil
}

// Made returns every session handed out so far.
func (f *Factory) Made() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.made...)
}

func (f *Factory) Credentials() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.credentials...)
}
