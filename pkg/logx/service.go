package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	kit "groupbot/internal/transport"
)

const (
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile = "./logs/groupbot.log"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

// FileConfig enables a JSON log file rotated by size.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TelegramConfig relays warn+ lines to an operator chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

// Service owns the log sinks and rebuilds them on Apply. Loggers obtained
// from it pick up the new sinks without being recreated.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu    sync.Mutex
	file  *lumberjack.Logger
	relay *chatRelay
}

// New builds the service from cfg. sender may be nil and set later with SetSender.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{relay: newChatRelay(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSender attaches the adapter used by the operator-chat relay.
func (s *Service) SetSender(sender kit.Adapter) { s.relay.setSender(sender) }

// Apply rebuilds the sinks. Safe to call concurrently with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter())
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := rotatingFile(cfg.File); err != nil {
			fmt.Fprintf(os.Stderr, "logx: file sink disabled: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	s.relay.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but telegram.operator_chat is not set")
		}
		sinks = append(sinks, s.relay)
	}

	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter())
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if old != nil {
		_ = old.Close()
	}
}

// Close stops the relay and closes the log file.
func (s *Service) Close() error {
	s.relay.stop()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}

func rotatingFile(cfg FileConfig) (*lumberjack.Logger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir for %q: %w", path, err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    max(1, cfg.MaxSizeMB),
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}, nil
}
