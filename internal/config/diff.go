package config

import (
	"reflect"
	"sort"
	"strings"

	logx "groupbot/pkg/logx"
)

// restartSections hold settings read once at startup; a change is logged but
// only takes effect after a restart.
var restartSections = map[string]bool{
	"telegram": true,
	"remote":   true,
	"vault":    true,
	"workers":  true,
	"storage":  true,
}

// SummarizeConfigChange returns the changed section names, safe structured attrs for
// logging (never secrets) and the subset of changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.OperatorChat != nt.OperatorChat ||
		ot.Handlers != nt.Handlers || ot.HandlerTimeout != nt.HandlerTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
			logx.Int("telegram.handlers", nt.Handlers),
		)
	}

	// Remote (never log api hash)
	or, nr := oldCfg.Remote, newCfg.Remote
	if or.APIID != nr.APIID || or.APIHash != nr.APIHash || !reflect.DeepEqual(or.Members, nr.Members) || or.Device != nr.Device {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.Int("remote.api_id", nr.APIID),
			logx.String("remote.members", strings.Join(nr.Members, ",")),
			logx.String("remote.device", nr.Device.Model),
		)
	}

	// Vault (never log key)
	if oldCfg.Vault != newCfg.Vault {
		changed = append(changed, "vault")
		attrs = append(attrs,
			logx.String("vault.dir", newCfg.Vault.Dir),
			logx.Bool("vault.key_changed", oldCfg.Vault.Key != newCfg.Vault.Key),
		)
	}

	if oldCfg.Workers != newCfg.Workers {
		changed = append(changed, "workers")
		attrs = append(attrs, logx.Int("workers.max_concurrent", newCfg.Workers.MaxConcurrent))
	}

	if oldCfg.Batch != newCfg.Batch {
		changed = append(changed, "batch")
		attrs = append(attrs,
			logx.Int("batch.size", newCfg.Batch.Size),
			logx.String("batch.min_delay", newCfg.Batch.MinDelay),
			logx.String("batch.max_delay", newCfg.Batch.MaxDelay),
			logx.Int("batch.progress_every", newCfg.Batch.ProgressEvery),
		)
	}

	if oldCfg.Accounts != newCfg.Accounts {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Bool("accounts.multi", newCfg.Accounts.Multi))
	}

	if oldCfg.Login != newCfg.Login {
		changed = append(changed, "login")
		attrs = append(attrs,
			logx.String("login.idle_timeout", newCfg.Login.IdleTimeout),
			logx.String("login.sweep_every", newCfg.Login.SweepEvery),
		)
	}

	// Storage. Nil means disabled.
	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.retention", newS.Retention),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Diag (never log token)
	if oldCfg.Diag != newCfg.Diag {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", newCfg.Diag.Enabled),
			logx.String("diag.addr", newCfg.Diag.Addr),
			logx.Bool("diag.token_changed", oldCfg.Diag.Token != newCfg.Diag.Token),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
