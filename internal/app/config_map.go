package app

import (
	"fmt"
	"strings"
	"time"

	"groupbot/internal/batch"
	"groupbot/internal/config"
	"groupbot/internal/observability/diag"
	"groupbot/internal/remote/mtproto"
	"groupbot/internal/storage"
	telegram "groupbot/internal/transport/telegram/adapter"
	"groupbot/internal/transport/telegram/router"
	logx "groupbot/pkg/logx"
)

const defaultRetention = 30 * 24 * time.Hour

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     cfg.Telegram.OperatorChat,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 2*time.Minute)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{Shards: cfg.Telegram.Handlers, QueueSize: 64, HandlerTimeout: timeout}, nil
}

func mapRemoteConfig(cfg *config.Config) mtproto.Config {
	d := cfg.Remote.Device
	return mtproto.Config{
		APIID:   cfg.Remote.APIID,
		APIHash: cfg.Remote.APIHash,
		Device: mtproto.FixedDevice{
			Model:      d.Model,
			System:     d.System,
			AppVersion: d.AppVersion,
			LangCode:   d.LangCode,
		},
	}
}

// mapBatchSettings converts the batch section. Validate has already checked the durations.
func mapBatchSettings(cfg *config.Config) (batch.Settings, error) {
	b := cfg.Batch
	minDelay, err := config.ParseDurationField("batch.min_delay", b.MinDelay)
	if err != nil {
		return batch.Settings{}, err
	}
	maxDelay, err := config.ParseDurationField("batch.max_delay", b.MaxDelay)
	if err != nil {
		return batch.Settings{}, err
	}
	if maxDelay < minDelay {
		return batch.Settings{}, fmt.Errorf("batch.max_delay must be >= batch.min_delay")
	}
	backoff, err := config.ParseDurationField("batch.error_backoff", b.ErrorBackoff)
	if err != nil {
		return batch.Settings{}, err
	}
	members := make([]string, 0, len(cfg.Remote.Members))
	for _, m := range cfg.Remote.Members {
		if m = strings.TrimSpace(m); m != "" {
			members = append(members, m)
		}
	}
	return batch.Settings{
		Size:          b.Size,
		MinDelay:      minDelay,
		MaxDelay:      maxDelay,
		ErrorBackoff:  backoff,
		ProgressEvery: b.ProgressEvery,
		TitlePrefix:   b.TitlePrefix,
		Members:       members,
	}, nil
}

// mapStorageConfig returns the store config, the audit retention and whether storage is enabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, time.Duration, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, 0, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, 0, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, 0, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, 0, false, err
	}
	retention := defaultRetention
	if strings.TrimSpace(sc.Retention) != "" {
		// "0s" keeps entries forever.
		if retention, err = config.ParseDurationField("storage.retention", sc.Retention); err != nil {
			return storage.Config{}, 0, false, err
		}
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, retention, true, nil
	default:
		return storage.Config{}, 0, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func loginTimings(cfg *config.Config) (idle, sweep time.Duration) {
	idle = config.MustDuration(cfg.Login.IdleTimeout, 15*time.Minute)
	sweep = config.MustDuration(cfg.Login.SweepEvery, time.Minute)
	return idle, sweep
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	return diag.Config{Enabled: cfg.Diag.Enabled, Addr: cfg.Diag.Addr, Token: cfg.Diag.Token}
}
