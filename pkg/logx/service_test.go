package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	kit "msghook/internal/transport"
)

type chatRecorder struct {
	mu    sync.Mutex
	to    []kit.ChatTarget
	texts []string
}

func (c *chatRecorder) Start(context.Context, chan<- kit.Message) error { return nil }
func (c *chatRecorder) Stop(context.Context) error                      { return nil }

func (c *chatRecorder) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to)
	c.texts = append(c.texts, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *chatRecorder) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	rec := &chatRecorder{}
	svc, log := New(Config{
		Level:    "DEBUG",
		Telegram: TelegramConfig{Enabled: true, ChatID: -42, ThreadID: 7, MinLevel: "WARN", RatePerSec: 10},
	}, nil)
	svc.SetSender(rec)

	log.Info("not forwarded")
	log.With(String("comp", "relay")).Warn("send to group failed", Int64("chat_id", 100))
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	got := rec.sent()
	if len(got) != 1 {
		t.Fatalf("forwarded %d messages: %q", len(got), got)
	}
	if !strings.HasPrefix(got[0], "[WARN] send to group failed") || !strings.Contains(got[0], "- chat_id=100") || !strings.Contains(got[0], "- comp=relay") {
		t.Fatalf("text = %q", got[0])
	}
	if rec.to[0] != (kit.ChatTarget{ChatID: -42, ThreadID: 7}) {
		t.Fatalf("target = %+v", rec.to[0])
	}
}

func TestTelegramSinkSilentWithoutChat(t *testing.T) {
	rec := &chatRecorder{}
	svc, log := New(Config{Telegram: TelegramConfig{Enabled: true, MinLevel: "ERROR"}}, rec)
	log.Error("nowhere to go")
	_ = svc.Close()
	if n := len(rec.sent()); n != 0 {
		t.Fatalf("sent %d messages with chat_id 0", n)
	}
}

func TestApplySwitchesFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "WARN", File: FileConfig{Enabled: true, Path: path}}, nil)
	defer svc.Close()

	log.Info("dropped at warn")
	svc.Apply(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("kept at debug")

	deadline := time.Now().Add(time.Second)
	var body string
	for time.Now().Before(deadline) {
		b, _ := os.ReadFile(path)
		if body = string(b); strings.Contains(body, "kept at debug") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if strings.Contains(body, "dropped at warn") || !strings.Contains(body, "kept at debug") {
		t.Fatalf("log file = %q", body)
	}
}
