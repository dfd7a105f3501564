package config

import (
	"reflect"
	"sort"
	"strings"

	logx "msghook/pkg/logx"
)

// Change flags which runtime pieces a reload touches.
type Change struct {
	Sections []string

	ListenAddr   bool // relay.server_host / server_port
	SenderRate   bool // relay.rate_per_sec
	Logging      bool
	TelegramAuth bool // token change; needs a restart to take effect
}

// SummarizeConfigChange returns which sections changed plus safe structured
// attrs for logging. Tokens are never logged, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) (Change, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	attrs := make([]logx.Field, 0, 16)
	o, n := oldCfg.Relay, newCfg.Relay

	ch.ListenAddr = strings.TrimSpace(o.ServerHost) != strings.TrimSpace(n.ServerHost) || o.ServerPort != n.ServerPort
	ch.SenderRate = o.RatePerSec != n.RatePerSec
	if ch.ListenAddr || ch.SenderRate ||
		o.APIToken != n.APIToken ||
		!reflect.DeepEqual(o.TargetGroups, n.TargetGroups) ||
		o.ForwardEnabled() != n.ForwardEnabled() ||
		o.MessagePrefix != n.MessagePrefix ||
		o.MessageSuffix != n.MessageSuffix ||
		strings.TrimSpace(o.SendTimeout) != strings.TrimSpace(n.SendTimeout) ||
		o.Concurrency != n.Concurrency {
		ch.Sections = append(ch.Sections, "relay")
		attrs = append(attrs,
			logx.String("relay.server_host", n.ServerHost),
			logx.Int("relay.server_port", n.ServerPort),
			logx.Bool("relay.token_set", n.APIToken != ""),
			logx.Int("relay.target_count", len(n.TargetGroups)),
			logx.Bool("relay.enable_forward", n.ForwardEnabled()),
			logx.Int("relay.concurrency", n.Concurrency),
			logx.Int("relay.rate_per_sec", n.RatePerSec),
		)
	}

	ch.TelegramAuth = oldCfg.Telegram.Token != newCfg.Telegram.Token
	if ch.TelegramAuth ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		ch.Sections = append(ch.Sections, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", ch.TelegramAuth),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Logging = true
		ch.Sections = append(ch.Sections, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	sort.Strings(ch.Sections)
	return ch, attrs
}
