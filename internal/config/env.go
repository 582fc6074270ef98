package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables overlaid on top of the config file. They win over file values.
const (
	EnvBotToken      = "BOT_TOKEN"
	EnvAPIID         = "API_ID"
	EnvAPIHash       = "API_HASH"
	EnvEncryptionKey = "ENCRYPTION_KEY"
	EnvMaxWorkers    = "MAX_CONCURRENT_WORKERS"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE files into the process environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(c *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvBotToken); ok {
		c.Telegram.Token = v
	}
	if v, ok := get(EnvAPIHash); ok {
		c.Remote.APIHash = v
	}
	if v, ok := get(EnvEncryptionKey); ok {
		c.Vault.Key = v
	}
	if v, ok := get(EnvAPIID); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: not an integer", EnvAPIID)
		}
		c.Remote.APIID = id
	}
	if v, ok := get(EnvMaxWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: not an integer", EnvMaxWorkers)
		}
		c.Workers.MaxConcurrent = n
	}
	return nil
}
