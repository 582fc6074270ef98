package config

import (
	"errors"
	"fmt"
	"strings"

	"groupbot/internal/observability/diag"
	logx "groupbot/pkg/logx"
)

// ErrMissingSecret reports a required credential that neither the file nor the environment provided.
var ErrMissingSecret = errors.New("missing required setting")

// Validate checks a fully merged config (file + env + defaults).
// Every error is fatal at startup and rejects a hot reload.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	missing := func(name, env string) {
		errs = append(errs, fmt.Errorf("%w: %s (env %s)", ErrMissingSecret, name, env))
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		missing("telegram.token", EnvBotToken)
	}
	if c.Remote.APIID <= 0 {
		missing("remote.api_id", EnvAPIID)
	}
	if strings.TrimSpace(c.Remote.APIHash) == "" {
		missing("remote.api_hash", EnvAPIHash)
	}
	if strings.TrimSpace(c.Vault.Key) == "" {
		missing("vault.key", EnvEncryptionKey)
	}
	if c.Workers.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("workers.max_concurrent must be > 0"))
	}
	if c.Telegram.Handlers < 0 {
		errs = append(errs, fmt.Errorf("telegram.handlers must be >= 0"))
	}

	if c.Batch.Size <= 0 {
		errs = append(errs, fmt.Errorf("batch.size must be > 0"))
	}
	if c.Batch.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("batch.progress_every must be >= 0"))
	}
	minDelay, err := ParseDurationField("batch.min_delay", c.Batch.MinDelay)
	errs = append(errs, err)
	maxDelay, err := ParseDurationField("batch.max_delay", c.Batch.MaxDelay)
	errs = append(errs, err)
	if maxDelay < minDelay {
		errs = append(errs, fmt.Errorf("batch.max_delay (%s) must be >= batch.min_delay (%s)", maxDelay, minDelay))
	}
	_, err = ParseDurationField("batch.error_backoff", c.Batch.ErrorBackoff)
	errs = append(errs, err)

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"telegram.handler_timeout", c.Telegram.HandlerTimeout},
		{"login.idle_timeout", c.Login.IdleTimeout},
		{"login.sweep_every", c.Login.SweepEvery},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		errs = append(errs, err)
	}

	for _, m := range c.Remote.Members {
		if strings.TrimSpace(strings.TrimPrefix(m, "@")) == "" {
			errs = append(errs, fmt.Errorf("remote.members: empty username"))
			break
		}
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		errs = append(errs, err)
		_, err = ParseDurationField("storage.retention", s.Retention)
		errs = append(errs, err)
	}

	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel))
	}
	if c.Logging.Telegram.Enabled && c.Telegram.OperatorChat == 0 {
		errs = append(errs, fmt.Errorf("logging.telegram.enabled requires telegram.operator_chat"))
	}
	if d := c.Diag; d.Enabled && strings.TrimSpace(d.Token) == "" && d.Addr != "" && !diag.IsLoopbackAddr(d.Addr) {
		errs = append(errs, fmt.Errorf("diag.addr %q is not loopback; set diag.token", d.Addr))
	}
	return errors.Join(errs...)
}
