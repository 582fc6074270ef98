// Package mtproto implements remote.Session on top of github.com/gotd/td.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/tg"

	"groupbot/internal/remote"
	logx "groupbot/pkg/logx"
)

// Config holds the application credentials shared by every session.
type Config struct {
	APIID   int
	APIHash string
	Device  DeviceStrategy
	// DisconnectTimeout bounds how long Disconnect waits for the client loop (default 10s).
	DisconnectTimeout time.Duration
}

type Factory struct {
	cfg Config
	log logx.Logger
}

var _ remote.Factory = (*Factory)(nil)

func NewFactory(cfg Config, log logx.Logger) (*Factory, error) {
	if cfg.APIID <= 0 {
		return nil, errors.New("mtproto: api id is required")
	}
	if strings.TrimSpace(cfg.APIHash) == "" {
		return nil, errors.New("mtproto: api hash is required")
	}
	if cfg.Device == nil {
		cfg.Device = FixedDevice(DefaultDevice)
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{cfg: cfg, log: log.With(logx.String("comp", "mtproto"))}, nil
}

// New returns an unconnected session. credential may be nil for a fresh login.
func (f *Factory) New(_ context.Context, credential []byte) (remote.Session, error) {
	return &Session{
		cfg:     f.cfg,
		device:  f.cfg.Device.Device(),
		storage: newMemStorage(credential),
		log:     f.log,
		peers:   map[string]*tg.InputUser{},
	}, nil
}

// Session owns one gotd client. The client loop runs in its own goroutine
// from Connect until Disconnect and outlives the context passed to Connect.
type Session struct {
	cfg     Config
	device  Device
	storage *memStorage
	log     logx.Logger

	mu        sync.Mutex
	client    *telegram.Client
	api       *tg.Client
	cancel    context.CancelFunc
	runDone   chan struct{}
	connected bool

	peersMu sync.Mutex
	peers   map[string]*tg.InputUser
}

var _ remote.Session = (*Session)(nil)

func (s *Session) Connect(ctx context.Context) remote.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return remote.Ok()
	}

	client := telegram.NewClient(s.cfg.APIID, s.cfg.APIHash, telegram.Options{
		SessionStorage: s.storage,
		Device:         s.device.config(),
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		err := client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug("client loop stopped", logx.Err(err))
		}
		errCh <- err
	}()

	select {
	case <-ready:
	case err := <-errCh:
		cancel()
		if err == nil {
			err = errors.New("client stopped before ready")
		}
		return Classify(fmt.Errorf("connect: %w", err))
	case <-ctx.Done():
		cancel()
		<-runDone
		return Classify(ctx.Err())
	}

	s.client = client
	s.api = client.API()
	s.cancel = cancel
	s.runDone = runDone
	s.connected = true
	s.log.Debug("connected", logx.String("device", s.device.Model))
	return remote.Ok()
}

func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	cancel, runDone := s.cancel, s.runDone
	s.client, s.api, s.cancel, s.runDone = nil, nil, nil, nil
	s.connected = false
	s.mu.Unlock()

	cancel()
	wait, stop := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DisconnectTimeout)
	defer stop()
	select {
	case <-runDone:
		s.log.Debug("disconnected")
	case <-wait.Done():
		s.log.Warn("disconnect timed out waiting for client loop")
	}
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) handles() (*telegram.Client, *tg.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, nil, errors.New("not connected")
	}
	return s.client, s.api, nil
}

func (s *Session) Authorized(ctx context.Context) (bool, remote.Result) {
	client, _, err := s.handles()
	if err != nil {
		return false, remote.Fail(remote.Failed, remote.ReasonUnknown, err)
	}
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, Classify(err)
	}
	return status.Authorized, remote.Ok()
}

func (s *Session) RequestCode(ctx context.Context, phone string) (string, remote.Result) {
	client, _, err := s.handles()
	if err != nil {
		return "", remote.Fail(remote.Failed, remote.ReasonUnknown, err)
	}
	sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", Classify(err)
	}
	switch v := any(sent).(type) {
	case *tg.AuthSentCode:
		return v.PhoneCodeHash, remote.Ok()
	default:
		return "", remote.Fail(remote.Failed, remote.ReasonUnknown, fmt.Errorf("unexpected sent code %T", sent))
	}
}

func (s *Session) SignIn(ctx context.Context, phone, code, hash string) remote.Result {
	client, _, err := s.handles()
	if err != nil {
		return remote.Fail(remote.Failed, remote.ReasonUnknown, err)
	}
	_, err = client.Auth().SignIn(ctx, phone, code, hash)
	return Classify(err)
}

func (s *Session) SignInPassword(ctx context.Context, password string) remote.Result {
	client, _, err := s.handles()
	if err != nil {
		return remote.Fail(remote.Failed, remote.ReasonUnknown, err)
	}
	_, err = client.Auth().Password(ctx, password)
	return Classify(err)
}

// CreateGroup creates a basic group with the given members.
func (s *Session) CreateGroup(ctx context.Context, members []string, title string) remote.Result {
	_, api, err := s.handles()
	if err != nil {
		return remote.Fail(remote.Failed, remote.ReasonUnknown, err)
	}
	users := make([]tg.InputUserClass, 0, len(members))
	for _, m := range members {
		u, err := s.resolve(ctx, api, m)
		if err != nil {
			return Classify(fmt.Errorf("resolve %s: %w", m, err))
		}
		users = append(users, u)
	}
	_, err = api.MessagesCreateChat(ctx, &tg.MessagesCreateChatRequest{
		Users: users,
		Title: title,
	})
	return Classify(err)
}

func (s *Session) resolve(ctx context.Context, api *tg.Client, username string) (*tg.InputUser, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	key := strings.ToLower(username)

	s.peersMu.Lock()
	u, ok := s.peers[key]
	s.peersMu.Unlock()
	if ok {
		return u, nil
	}

	p, err := peer.Plain(api).ResolveDomain(ctx, username)
	if err != nil {
		return nil, err
	}
	pu, ok := p.(*tg.InputPeerUser)
	if !ok {
		return nil, fmt.Errorf("%s is not a user (%T)", username, p)
	}
	u = &tg.InputUser{UserID: pu.UserID, AccessHash: pu.AccessHash}

	s.peersMu.Lock()
	s.peers[key] = u
	s.peersMu.Unlock()
	return u, nil
}

// Export returns the gotd session bytes stored so far.
func (s *Session) Export(context.Context) ([]byte, error) {
	b := s.storage.bytes()
	if len(b) == 0 {
		return nil, errors.New("mtproto: session has no stored state")
	}
	return b, nil
}
