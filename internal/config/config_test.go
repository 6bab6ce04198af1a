package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "bookbot/pkg/logx"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvAlertWebhook, "")
}

func TestParseFormats(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"config.json": `{"telegram":{"token":"abc","poll_timeout":"20s"},"search":{"timeout":"3s","max_results":3}}`,
		"config.yaml": "telegram:\n  token: abc\n  poll_timeout: 20s\nsearch:\n  timeout: 3s\n  max_results: 3\n",
		"config.toml": "[telegram]\ntoken = \"abc\"\npoll_timeout = \"20s\"\n\n[search]\ntimeout = \"3s\"\nmax_results = 3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := NewConfigManager(writeConfig(t, name, body)).Parse()
			require.NoError(t, err)
			assert.Equal(t, "abc", cfg.Telegram.Token)
			assert.Equal(t, 20*time.Second, cfg.Telegram.PollTimeoutOrDefault())
			assert.Equal(t, 3*time.Second, cfg.Search.TimeoutOrDefault())
			assert.Equal(t, 3, cfg.Search.MaxResults)
			assert.Equal(t, DefaultLockFile, cfg.LockPath())
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "config.yaml", "telegram:\n  token: abc\n  owner_user_ids: [1]\n")
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner_user_ids")
}

func TestParseRejectsTrailingData(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "config.json", `{"telegram":{"token":"a"}}{"telegram":{"token":"b"}}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvTelegramToken, "from-env")
	t.Setenv(EnvAlertWebhook, "https://hooks.example.com/T000/B000")

	p := writeConfig(t, "config.json", `{"telegram":{"token":"from-file"}}`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Telegram.Token)
	lc := cfg.Logging.Logx()
	assert.True(t, lc.Alert.Enabled)
	assert.Equal(t, "https://hooks.example.com/T000/B000", lc.Alert.WebhookURL)
	assert.Equal(t, "exclude_level:debug", lc.Alert.Filter)
}

func TestNoFileUsesDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvTelegramToken, "tok")

	cfg, err := NewConfigManager("").Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Telegram.Token)
	assert.Equal(t, logx.DefaultConfig(), cfg.Logging.Logx())
}

func TestValidationFailures(t *testing.T) {
	clearEnv(t)
	cases := map[string]struct {
		body string
		want string
	}{
		"missing token":  {`{}`, "telegram.token is required (or set TELEGRAM_TOKEN)"},
		"bad duration":   {`{"telegram":{"token":"a"},"search":{"timeout":"soon"}}`, `search.timeout: invalid duration "soon"`},
		"bad level":      {`{"telegram":{"token":"a"},"logging":{"level":"loud"}}`, `logging.level: unknown level "loud"`},
		"bad filter":     {`{"telegram":{"token":"a"},"logging":{"files":[{"path":"x.log","filter":"regex:.*"}]}}`, `logging.files[0].filter: invalid filter`},
		"file path":      {`{"telegram":{"token":"a"},"logging":{"files":[{"name":"x"}]}}`, "logging.files[0].path is required"},
		"bad base url":   {`{"telegram":{"token":"a"},"search":{"base_url":"not a url"}}`, "search.base_url: invalid url"},
		"too many items": {`{"telegram":{"token":"a"},"search":{"max_results":50}}`, "search.max_results failed lte=20"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfigManager(writeConfig(t, "config.json", tc.body)).Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoggingSectionConversion(t *testing.T) {
	clearEnv(t)
	body := `
telegram:
  token: abc
logging:
  level: debug
  console:
    enabled: false
  files:
    - name: audit
      path: logs/audit.log
      filter: "contains:number of results: 0"
      rotate: 24h
      backups: 30
  alert:
    enabled: true
    webhook_url: https://hooks.example.com/x
    match: updates
    timeout: 2s
    rate_per_sec: 1
`
	cfg, err := NewConfigManager(writeConfig(t, "config.yml", body)).Parse()
	require.NoError(t, err)

	lc := cfg.Logging.Logx()
	assert.Equal(t, "debug", lc.Level)
	assert.False(t, lc.Console.Enabled)
	require.Len(t, lc.Files, 1)
	assert.Equal(t, logx.FileConfig{
		Name: "audit", Path: "logs/audit.log", Filter: "contains:number of results: 0",
		Rotate: 24 * time.Hour, Backups: 30,
	}, lc.Files[0])
	assert.Equal(t, "updates", lc.Alert.Match)
	assert.Equal(t, 2*time.Second, lc.Alert.Timeout)
	assert.Equal(t, 1, lc.Alert.RatePerSec)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Search: SearchConfig{Timeout: "5s"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Search: SearchConfig{Timeout: "8s"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"search"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Empty(t, RestartRequired(changed))

	newCfg.Logging.Level = "debug"
	newCfg.Telegram.Token = "b"
	changed, _ = SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "search", "telegram"}, changed)
	assert.Equal(t, []string{"logging", "telegram"}, RestartRequired(changed))
}

func TestWatchAppliesChangedConfig(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "config.json", `{"telegram":{"token":"a"},"search":{"timeout":"5s"}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	type change struct{ prev, next *Config }
	applied := make(chan change, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- m.Watch(ctx, func(prev, next *Config) {
			select {
			case applied <- change{prev, next}:
			default:
			}
		})
	}()

	// The watcher may not be registered yet; keep rewriting until a reload lands.
	var got change
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"search":{"timeout":"7s"}}`), 0o644)
		select {
		case got = <-applied:
			return true
		default:
			return false
		}
	}, 5*time.Second, 400*time.Millisecond)

	assert.Equal(t, "5s", got.prev.Search.Timeout)
	assert.Equal(t, "7s", got.next.Search.Timeout)
	assert.Equal(t, "7s", m.Get().Search.Timeout)

	cancel()
	assert.NoError(t, <-done)
}

func TestReloadSkipsUnchangedAndInvalid(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "config.json", `{"telegram":{"token":"a"}}`)
	m := NewConfigManager(p)
	loaded, err := m.Load()
	require.NoError(t, err)

	calls := 0
	apply := func(prev, next *Config) { calls++ }

	m.reload(apply)
	assert.Zero(t, calls, "same content is not applied again")

	require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"search":{"timeout":"soon"}}`), 0o644))
	m.reload(apply)
	assert.Zero(t, calls)
	assert.Same(t, loaded, m.Get(), "invalid file keeps the committed config")

	require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"search":{"max_results":3}}`), 0o644))
	m.reload(apply)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, m.Get().Search.MaxResults)
}

func TestWatchWithoutPathWaitsForCancel(t *testing.T) {
	m := NewConfigManager("")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, m.Watch(ctx, nil))
}

func TestDurationOr(t *testing.T) {
	assert.Equal(t, time.Minute, durationOr("", time.Minute))
	assert.Equal(t, time.Minute, durationOr("-1s", time.Minute))
	assert.Equal(t, time.Minute, durationOr("0s", time.Minute))
	assert.Equal(t, time.Minute, durationOr("soon", time.Minute))
	assert.Equal(t, 3*time.Second, durationOr(" 3s ", time.Minute))
}
