package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bookbot/pkg/logx"
)

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{"search": true}

// SummarizeConfigChange returns (1) a sorted list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens
// or webhook urls).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.APIURL) != strings.TrimSpace(newCfg.Telegram.APIURL) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	// Logging (never log webhook url)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		lc := newCfg.Logging.Logx()
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", lc.Level),
			logx.Bool("logging.console", lc.Console.Enabled),
			logx.Int("logging.files", len(lc.Files)),
			logx.Bool("logging.alert_enabled", lc.Alert.Enabled),
			logx.Bool("logging.alert_url_set", strings.TrimSpace(lc.Alert.WebhookURL) != ""),
		)
	}

	if oldCfg.Search != newCfg.Search {
		changed = append(changed, "search")
		attrs = append(attrs,
			logx.String("search.base_url", strings.TrimSpace(newCfg.Search.BaseURL)),
			logx.Duration("search.timeout", newCfg.Search.TimeoutOrDefault()),
			logx.Int("search.max_results", newCfg.Search.MaxResults),
		)
	}

	if oldCfg.LockPath() != newCfg.LockPath() {
		changed = append(changed, "lock_file")
		attrs = append(attrs, logx.String("lock_file", newCfg.LockPath()))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to sections that only apply on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
