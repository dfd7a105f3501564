package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"msghook/internal/relay"
	logx "msghook/pkg/logx"
)

const (
	DefaultServerHost  = "127.0.0.1"
	DefaultServerPort  = 8080
	DefaultPollTimeout = 10 * time.Second
	DefaultLogFile     = "./msghook.log"
)

type Config struct {
	Relay    RelayConfig    `json:"relay"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
}

// RelayConfig is the HTTP relay section.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
// EnableForward is a pointer so an omitted key defaults to true while an
// explicit false still disables forwarding.
type RelayConfig struct {
	ServerHost    string     `env:"MSGHOOK_SERVER_HOST" json:"server_host"`
	ServerPort    int        `env:"MSGHOOK_SERVER_PORT" json:"server_port"`
	APIToken      string     `env:"MSGHOOK_API_TOKEN"   json:"api_token"`
	TargetGroups  TargetList `json:"target_groups"`
	EnableForward *bool      `json:"enable_forward,omitempty"`
	MessagePrefix string     `json:"message_prefix"`
	MessageSuffix string     `json:"message_suffix"`

	SendTimeout string `json:"send_timeout,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// ForwardEnabled reports enable_forward, defaulting to true when omitted.
func (r RelayConfig) ForwardEnabled() bool {
	return r.EnableForward == nil || *r.EnableForward
}

type TelegramConfig struct {
	Token        string  `env:"MSGHOOK_TELEGRAM_TOKEN" json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `env:"MSGHOOK_LOG_LEVEL" json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TargetList is a []string that also accepts JSON numbers, so
// target_groups can hold both "-100123" and -100123.
type TargetList []string

func (t *TargetList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = nil
		return nil
	}

	// UseNumber keeps large chat ids exact instead of going through float64.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("target_groups: %w", err)
	}

	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case json.Number:
			out = append(out, val.String())
		case nil:
			out = append(out, "")
		default:
			return fmt.Errorf("target_groups: unsupported entry %v", val)
		}
	}
	*t = out
	return nil
}

// ApplyDefaults fills zero values. It runs after file decode and env
// overrides, so explicit values always win.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Relay.ServerHost) == "" {
		c.Relay.ServerHost = DefaultServerHost
	}
	if c.Relay.ServerPort == 0 {
		c.Relay.ServerPort = DefaultServerPort
	}
	if c.Relay.Concurrency == 0 {
		c.Relay.Concurrency = relay.DefaultConcurrency
	}
	if c.Relay.RatePerSec == 0 {
		c.Relay.RatePerSec = relay.DefaultRatePerSec
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = DefaultLogFile
	}
	if strings.TrimSpace(c.Logging.Telegram.MinLevel) == "" {
		c.Logging.Telegram.MinLevel = "WARN"
	}
	if c.Logging.Telegram.RatePerSec == 0 {
		c.Logging.Telegram.RatePerSec = 1
	}
}

// Validate reports every invalid field, each prefixed with its path.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required"))
	}
	if p := c.Relay.ServerPort; p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("relay.server_port: %d out of range", p))
	}
	if _, err := ParseDurationField("relay.send_timeout", c.Relay.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Relay.Concurrency < 0 {
		errs = append(errs, errors.New("relay.concurrency: must be >= 0"))
	}
	if c.Relay.RatePerSec < 0 {
		errs = append(errs, errors.New("relay.rate_per_sec: must be >= 0"))
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("logging.telegram.rate_per_sec: must be >= 0"))
	}
	return errors.Join(errs...)
}

// RelaySnapshot is the per-operation view handed to the relay engine.
// The target slice is copied so a later reload cannot alias it.
func (c *Config) RelaySnapshot() relay.Config {
	timeout, err := ParseDurationOrDefault("relay.send_timeout", c.Relay.SendTimeout, relay.DefaultSendTimeout)
	if err != nil {
		timeout = relay.DefaultSendTimeout
	}
	var targets []string
	if len(c.Relay.TargetGroups) > 0 {
		targets = append([]string(nil), c.Relay.TargetGroups...)
	}
	return relay.Config{
		Host:          c.Relay.ServerHost,
		Port:          c.Relay.ServerPort,
		APIToken:      c.Relay.APIToken,
		Targets:       targets,
		EnableForward: c.Relay.ForwardEnabled(),
		MessagePrefix: c.Relay.MessagePrefix,
		MessageSuffix: c.Relay.MessageSuffix,
		SendTimeout:   timeout,
		Concurrency:   c.Relay.Concurrency,
	}
}

func (c *Config) PollTimeout() time.Duration {
	d, err := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	if err != nil {
		return DefaultPollTimeout
	}
	return d
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			ChatID:     c.Logging.Telegram.ChatID,
			ThreadID:   c.Logging.Telegram.ThreadID,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}
