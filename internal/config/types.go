package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("400s", "15m"). Secrets are usually supplied through the environment
// (see env.go) rather than the file.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Remote   RemoteConfig   `json:"remote"`
	Vault    VaultConfig    `json:"vault"`
	Workers  WorkersConfig  `json:"workers"`
	Batch    BatchConfig    `json:"batch"`
	Accounts AccountsConfig `json:"accounts"`
	Login    LoginConfig    `json:"login"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Diag     DiagConfig     `json:"diag"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// OperatorChat receives warn+ log lines when logging.telegram is enabled.
	OperatorChat int64 `json:"operator_chat,omitempty"`
	// Handlers is the number of dispatch shards (default 4).
	Handlers int `json:"handlers,omitempty"`
	// HandlerTimeout bounds a single handler run, including login calls (default "2m").
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

// RemoteConfig holds the MTProto application credentials.
type RemoteConfig struct {
	APIID   int    `json:"api_id,omitempty"`
	APIHash string `json:"api_hash,omitempty"`
	// Members are the usernames invited into every created group (default ["BotFather"]).
	Members []string     `json:"members,omitempty"`
	Device  DeviceConfig `json:"device"`
}

type DeviceConfig struct {
	Model      string `json:"model,omitempty"`
	System     string `json:"system,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	LangCode   string `json:"lang_code,omitempty"`
}

type VaultConfig struct {
	Dir string `json:"dir,omitempty"`
	Key string `json:"key,omitempty"`
}

type WorkersConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

// BatchConfig paces one batch run. Changes apply to batches started afterwards.
type BatchConfig struct {
	Size          int    `json:"size,omitempty"`
	MinDelay      string `json:"min_delay,omitempty"`
	MaxDelay      string `json:"max_delay,omitempty"`
	ErrorBackoff  string `json:"error_backoff,omitempty"`
	ProgressEvery int    `json:"progress_every,omitempty"`
	TitlePrefix   string `json:"title_prefix,omitempty"`
}

type AccountsConfig struct {
	// Multi lets an owner keep several labelled accounts.
	Multi bool `json:"multi"`
}

type LoginConfig struct {
	IdleTimeout string `json:"idle_timeout,omitempty"`
	SweepEvery  string `json:"sweep_every,omitempty"`
}

// StorageConfig controls the audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/groupbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention prunes audit rows older than this (default "720h", "0s" keeps forever).
	Retention string `json:"retention,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DiagConfig exposes pprof and a health snapshot over HTTP.
// A non-loopback addr requires a token.
type DiagConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Defaults used when a field is omitted.
const (
	DefaultVaultDir       = "./sessions"
	DefaultMaxConcurrent  = 5
	DefaultBatchSize      = 50
	DefaultMinDelay       = "400s"
	DefaultMaxDelay       = "800s"
	DefaultErrorBackoff   = "60s"
	DefaultProgressEvery  = 10
	DefaultTitlePrefix    = "Automated Group"
	DefaultIdleTimeout    = "15m"
	DefaultSweepEvery     = "1m"
	DefaultPollTimeout    = "10s"
	DefaultHandlers       = 4
	DefaultHandlerTimeout = "2m"
)

// applyDefaults fills omitted fields in place.
func applyDefaults(c *Config) {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Telegram.Handlers == 0 {
		c.Telegram.Handlers = DefaultHandlers
	}
	if c.Telegram.HandlerTimeout == "" {
		c.Telegram.HandlerTimeout = DefaultHandlerTimeout
	}
	if len(c.Remote.Members) == 0 {
		c.Remote.Members = []string{"BotFather"}
	}
	if c.Vault.Dir == "" {
		c.Vault.Dir = DefaultVaultDir
	}
	if c.Workers.MaxConcurrent == 0 {
		c.Workers.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = DefaultBatchSize
	}
	if c.Batch.MinDelay == "" {
		c.Batch.MinDelay = DefaultMinDelay
	}
	if c.Batch.MaxDelay == "" {
		c.Batch.MaxDelay = DefaultMaxDelay
	}
	if c.Batch.ErrorBackoff == "" {
		c.Batch.ErrorBackoff = DefaultErrorBackoff
	}
	if c.Batch.ProgressEvery == 0 {
		c.Batch.ProgressEvery = DefaultProgressEvery
	}
	if c.Batch.TitlePrefix == "" {
		c.Batch.TitlePrefix = DefaultTitlePrefix
	}
	if c.Login.IdleTimeout == "" {
		c.Login.IdleTimeout = DefaultIdleTimeout
	}
	if c.Login.SweepEvery == "" {
		c.Login.SweepEvery = DefaultSweepEvery
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
