package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const jsonCfg = `{
  "relay": {
    "server_host": "0.0.0.0",
    "server_port": 9000,
    "api_token": "secret",
    "target_groups": [100, "200", " -1001234567890 "],
    "message_prefix": "[Bot] "
  },
  "telegram": {"token": "123:abc", "owner_user_ids": [42]},
  "logging": {"level": "DEBUG", "console": true}
}`

const yamlCfg = `
relay:
  server_host: 0.0.0.0
  server_port: 9000
  api_token: secret
  target_groups: [100, "200", " -1001234567890 "]
  message_prefix: "[Bot] "
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: DEBUG
  console: true
`

func TestLoadJSONAndYAMLDecodeIdentically(t *testing.T) {
	ctx := context.Background()
	jc, err := NewManager(writeFile(t, "config.json", jsonCfg)).Load(ctx)
	if err != nil {
		t.Fatalf("json Load() error = %v", err)
	}
	yc, err := NewManager(writeFile(t, "config.yaml", yamlCfg)).Load(ctx)
	if err != nil {
		t.Fatalf("yaml Load() error = %v", err)
	}
	if !reflect.DeepEqual(jc, yc) {
		t.Fatalf("json and yaml differ:\n%+v\n%+v", jc, yc)
	}

	want := TargetList{"100", "200", " -1001234567890 "}
	if !reflect.DeepEqual(jc.Relay.TargetGroups, want) {
		t.Fatalf("TargetGroups = %#v, want %#v", jc.Relay.TargetGroups, want)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := NewManager(writeFile(t, "c.json", `{"telegram":{"token":"t"}}`)).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	snap := cfg.RelaySnapshot()
	if snap.Host != DefaultServerHost || snap.Port != DefaultServerPort {
		t.Fatalf("addr = %s", snap.Addr())
	}
	if !snap.EnableForward {
		t.Fatal("enable_forward should default to true")
	}
	if snap.SendTimeout != 10*time.Second || snap.Concurrency != 4 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Targets != nil {
		t.Fatalf("targets = %#v, want nil", snap.Targets)
	}
	if cfg.Relay.RatePerSec != 20 || cfg.PollTimeout() != DefaultPollTimeout {
		t.Fatalf("rate=%d poll=%s", cfg.Relay.RatePerSec, cfg.PollTimeout())
	}
}

func TestExplicitFalseDisablesForwarding(t *testing.T) {
	cfg, err := NewManager(writeFile(t, "c.json", `{"relay":{"enable_forward":false},"telegram":{"token":"t"}}`)).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RelaySnapshot().EnableForward {
		t.Fatal("explicit false was ignored")
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("MSGHOOK_SERVER_PORT", "9100")
	t.Setenv("MSGHOOK_API_TOKEN", "from-env")
	t.Setenv("MSGHOOK_TELEGRAM_TOKEN", "env-token")

	cfg, err := NewManager(writeFile(t, "c.json", jsonCfg)).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.ServerPort != 9100 || cfg.Relay.APIToken != "from-env" || cfg.Telegram.Token != "env-token" {
		t.Fatalf("env not applied: %+v %+v", cfg.Relay, cfg.Telegram)
	}
	if cfg.Relay.ServerHost != "0.0.0.0" {
		t.Fatalf("unset env must keep file value, got %q", cfg.Relay.ServerHost)
	}
}

func TestEnvSuppliesMissingToken(t *testing.T) {
	t.Setenv("MSGHOOK_TELEGRAM_TOKEN", "env-token")
	if _, err := NewManager(writeFile(t, "c.json", `{}`)).Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name, file, body, want string
	}{
		{"unknown key", "c.json", `{"telegram":{"token":"t"},"plugins":{}}`, "unknown field"},
		{"unknown nested key", "c.yaml", "telegram:\n  token: t\nrelay:\n  port: 1\n", "unknown field"},
		{"trailing data", "c.json", `{"telegram":{"token":"t"}}{}`, "trailing data"},
		{"missing token", "c.json", `{}`, "telegram.token"},
		{"bad duration", "c.json", `{"telegram":{"token":"t"},"relay":{"send_timeout":"soon"}}`, "relay.send_timeout"},
		{"port range", "c.json", `{"telegram":{"token":"t"},"relay":{"server_port":70000}}`, "relay.server_port"},
		{"bad target entry", "c.json", `{"telegram":{"token":"t"},"relay":{"target_groups":[{"id":1}]}}`, "target_groups"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("MSGHOOK_TELEGRAM_TOKEN", "")
			os.Unsetenv("MSGHOOK_TELEGRAM_TOKEN")
			_, err := NewManager(writeFile(t, tc.file, tc.body)).Load(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestRelaySnapshotCopiesTargets(t *testing.T) {
	cfg := &Config{Relay: RelayConfig{TargetGroups: TargetList{"1", "2"}}}
	snap := cfg.RelaySnapshot()
	cfg.Relay.TargetGroups[0] = "999"
	if snap.Targets[0] != "1" {
		t.Fatal("snapshot aliases config slice")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Relay: RelayConfig{ServerHost: "h", ServerPort: 1, RatePerSec: 5}, Telegram: TelegramConfig{Token: "x"}}
	b := *a
	b.Relay.ServerPort = 2
	b.Logging.Level = "DEBUG"

	ch, attrs := SummarizeConfigChange(a, &b)
	if !ch.ListenAddr || ch.SenderRate || !ch.Logging || ch.TelegramAuth {
		t.Fatalf("change = %+v", ch)
	}
	if !reflect.DeepEqual(ch.Sections, []string{"logging", "relay"}) {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	none, _ := SummarizeConfigChange(a, a)
	if len(none.Sections) != 0 {
		t.Fatalf("no-op reload reported %v", none.Sections)
	}
}

func TestWatchPublishesValidReloadsOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("filesystem watch")
	}
	path := writeFile(t, "config.json", `{"telegram":{"token":"t"},"relay":{"server_port":8001}}`)
	m := NewManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"relay":{"server_port":"nope"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(3 * reloadDebounce)
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg)
	default:
	}

	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"relay":{"server_port":8002}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-sub:
		if cfg.Relay.ServerPort != 8002 {
			t.Fatalf("port = %d", cfg.Relay.ServerPort)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
	if m.Get().Relay.ServerPort != 8002 {
		t.Fatal("reload not committed")
	}

	cancel()
	<-done
}
