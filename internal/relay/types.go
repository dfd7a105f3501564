package relay

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSendTimeout = 10 * time.Second
	DefaultConcurrency = 4
)

// Config is the per-request snapshot the engine works from. Callers build a
// fresh one for every operation; the engine never mutates it.
type Config struct {
	Host          string
	Port          int
	APIToken      string
	Targets       []string // as configured, unresolved
	EnableForward bool
	MessagePrefix string
	MessageSuffix string

	SendTimeout time.Duration
	Concurrency int
}

// Addr is the listen address. IPv6 hosts are bracketed.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Destination is a Telegram chat id.
type Destination int64

func (d Destination) String() string { return strconv.FormatInt(int64(d), 10) }

// ParseDestination accepts a base-10 chat id. Empty, malformed and zero ids
// are rejected.
func ParseDestination(raw string) (Destination, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty destination")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("destination %q: %w", raw, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("destination %q: zero chat id", raw)
	}
	return Destination(id), nil
}

// SendRequest is the decoded body of POST /send.
type SendRequest struct {
	Message string `json:"message"`
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Destination Destination
	Succeeded   bool
	Err         error
}

// Result aggregates one relay. Outcomes follow configured destination order.
type Result struct {
	Attempted int
	Succeeded int
	Outcomes  []Outcome
}

// Summary is the human text returned to HTTP callers.
func (r Result) Summary() string {
	return fmt.Sprintf("消息已发送到 %d/%d 个群", r.Succeeded, r.Attempted)
}

type Server struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Health is the GET /health payload, a pure projection of Config.
type Health struct {
	Status        string   `json:"status"`
	TargetGroups  []string `json:"target_groups"`
	Server        Server   `json:"server"`
	EnableForward bool     `json:"enable_forward"`
}

func HealthOf(cfg Config) Health {
	targets := cfg.Targets
	if targets == nil {
		targets = []string{}
	}
	return Health{
		Status:        "ok",
		TargetGroups:  targets,
		Server:        Server{Host: cfg.Host, Port: cfg.Port},
		EnableForward: cfg.EnableForward,
	}
}
