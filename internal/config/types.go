package config

import (
	"strings"
	"time"

	logx "bookbot/pkg/logx"
)

const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvAlertWebhook  = "SLACK_WEBHOOK_URL"

	DefaultLockFile = "bookbot.lock"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Search   SearchConfig   `json:"search"`

	// LockFile guards against two bots polling with the same token.
	// Default: bookbot.lock in the working directory.
	LockFile string `json:"lock_file,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty when TELEGRAM_TOKEN is set.
	Token string `json:"token" validate:"required"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty" validate:"omitempty,duration"`
	APIURL      string `json:"api_url,omitempty" validate:"omitempty,url"`
}

// LoggingConfig describes the sinks. Omitted sections fall back to the stock
// layout (see logx.DefaultConfig); an explicit empty files list disables
// file sinks.
type LoggingConfig struct {
	Level   string          `json:"level,omitempty" validate:"omitempty,level"`
	Console *LoggingConsole `json:"console,omitempty"`
	Files   []LoggingFile   `json:"files,omitempty" validate:"omitempty,dive"`
	Alert   *LoggingAlert   `json:"alert,omitempty"`
}

type LoggingConsole struct {
	Enabled bool `json:"enabled"`
	// Format is "pretty" or a text layout like "{level} => {message}".
	Format string `json:"format,omitempty"`
}

type LoggingFile struct {
	Name   string `json:"name,omitempty"`
	Path   string `json:"path" validate:"required"`
	Level  string `json:"level,omitempty" validate:"omitempty,level"`
	Filter string `json:"filter,omitempty" validate:"omitempty,filter"`
	Format string `json:"format,omitempty"`
	// Rotate is a Go duration string; empty means a plain append-only file.
	Rotate  string `json:"rotate,omitempty" validate:"omitempty,duration"`
	Backups int    `json:"backups,omitempty" validate:"gte=0"`
}

type LoggingAlert struct {
	Enabled bool `json:"enabled"`
	// WebhookURL is overridden by SLACK_WEBHOOK_URL when that is set.
	WebhookURL string `json:"webhook_url,omitempty" validate:"omitempty,url"`
	Level      string `json:"level,omitempty" validate:"omitempty,level"`
	Filter     string `json:"filter,omitempty" validate:"omitempty,filter"`
	Match      string `json:"match,omitempty"`
	Timeout    string `json:"timeout,omitempty" validate:"omitempty,duration"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

type SearchConfig struct {
	BaseURL    string `json:"base_url,omitempty" validate:"omitempty,url"`
	Timeout    string `json:"timeout,omitempty" validate:"omitempty,duration"`
	MaxResults int    `json:"max_results,omitempty" validate:"gte=0,lte=20"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{LockFile: DefaultLockFile}
}

// ApplyEnv overlays environment values on cfg. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAlertWebhook); ok && strings.TrimSpace(v) != "" {
		if cfg.Logging.Alert == nil {
			def := logx.DefaultConfig().Alert
			cfg.Logging.Alert = &LoggingAlert{
				Enabled: def.Enabled,
				Level:   def.Level,
				Filter:  def.Filter,
			}
		}
		cfg.Logging.Alert.WebhookURL = strings.TrimSpace(v)
	}
}

// Logx converts the logging section into router config. Durations are
// assumed validated.
func (c LoggingConfig) Logx() logx.Config {
	out := logx.DefaultConfig()
	if strings.TrimSpace(c.Level) != "" {
		out.Level = c.Level
	}
	if c.Console != nil {
		out.Console = logx.ConsoleConfig{Enabled: c.Console.Enabled, Format: c.Console.Format}
	}
	if c.Files != nil {
		out.Files = make([]logx.FileConfig, 0, len(c.Files))
		for _, f := range c.Files {
			rot := durationOr(f.Rotate, 0)
			out.Files = append(out.Files, logx.FileConfig{
				Name:    f.Name,
				Path:    f.Path,
				Level:   f.Level,
				Filter:  f.Filter,
				Format:  f.Format,
				Rotate:  rot,
				Backups: f.Backups,
			})
		}
	}
	if c.Alert != nil {
		timeout := durationOr(c.Alert.Timeout, 0)
		out.Alert = logx.AlertConfig{
			Enabled:    c.Alert.Enabled,
			WebhookURL: c.Alert.WebhookURL,
			Level:      c.Alert.Level,
			Filter:     c.Alert.Filter,
			Match:      c.Alert.Match,
			Timeout:    timeout,
			RatePerSec: c.Alert.RatePerSec,
		}
	}
	return out
}

// PollTimeoutOrDefault returns the long poll timeout (default 10s).
func (c TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return durationOr(c.PollTimeout, 10*time.Second)
}

// TimeoutOrDefault returns the search HTTP timeout (default 10s).
func (c SearchConfig) TimeoutOrDefault() time.Duration {
	return durationOr(c.Timeout, 10*time.Second)
}

// durationOr returns def unless raw is a positive duration.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) LockPath() string {
	if c == nil || strings.TrimSpace(c.LockFile) == "" {
		return DefaultLockFile
	}
	return c.LockFile
}
