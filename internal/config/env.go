package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvTelegramToken overrides telegram.token so the secret can stay out of the
// config file.
const EnvTelegramToken = "PEWSCHED_TELEGRAM_TOKEN"

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing files
// are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv copies environment overrides into cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if tok := strings.TrimSpace(os.Getenv(EnvTelegramToken)); tok != "" {
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.Token = tok
	}
}
