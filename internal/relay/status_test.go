package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	kit "msghook/internal/transport"
)

func TestRenderStatus(t *testing.T) {
	cfg := Config{
		Host:          "0.0.0.0",
		Port:          9000,
		APIToken:      "t",
		Targets:       []string{"100", "200"},
		EnableForward: true,
	}
	want := "【消息转发插件状态】\n" +
		"服务器: 0.0.0.0:9000\n" +
		"目标群号: 100, 200\n" +
		"群数量: 2\n" +
		"转发状态: 启用\n" +
		"Token 验证: 启用"
	if got := RenderStatus(cfg); got != want {
		t.Fatalf("RenderStatus() =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderStatusUnconfigured(t *testing.T) {
	want := "【消息转发插件状态】\n" +
		"服务器: 127.0.0.1:8080\n" +
		"目标群号: 未配置\n" +
		"群数量: 0\n" +
		"转发状态: 禁用\n" +
		"Token 验证: 禁用"
	if got := RenderStatus(Config{Host: "127.0.0.1", Port: 8080}); got != want {
		t.Fatalf("RenderStatus() =\n%s\nwant\n%s", got, want)
	}
}

func TestConfigAddr(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"127.0.0.1", "127.0.0.1:8080"},
		{"::1", "[::1]:8080"},
		{"", ":8080"},
	}
	for _, tc := range cases {
		if got := (Config{Host: tc.host, Port: 8080}).Addr(); got != tc.want {
			t.Errorf("Addr(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
	if got := RenderStatus(Config{Host: "::1", Port: 8080}); !strings.Contains(got, "服务器: ::1:8080\n") {
		t.Fatalf("status shows %q", got)
	}
}

func TestHealthOfNeverReturnsNilTargets(t *testing.T) {
	h := HealthOf(Config{Host: "h", Port: 1})
	if h.Status != "ok" || h.TargetGroups == nil || h.Server.Host != "h" || h.Server.Port != 1 {
		t.Fatalf("HealthOf() = %+v", h)
	}
}

type fakeAdapter struct {
	kit.Adapter
	got []kit.ChatTarget
	err error
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.got = append(f.got, to)
	return kit.MessageRef{ChatID: to.ChatID}, f.err
}

func TestAdapterSenderMapsDestination(t *testing.T) {
	ad := &fakeAdapter{}
	s := NewAdapterSender(ad, 0)
	if err := s.Send(context.Background(), Destination(-100), "x"); err != nil {
		t.Fatal(err)
	}
	if len(ad.got) != 1 || ad.got[0].ChatID != -100 {
		t.Fatalf("targets = %+v", ad.got)
	}

	ad.err = errors.New("forbidden")
	if err := s.Send(context.Background(), Destination(1), "x"); err == nil {
		t.Fatal("adapter error should propagate")
	}
}

func TestAdapterSenderHonorsCancelledContext(t *testing.T) {
	s := NewAdapterSender(&fakeAdapter{}, 1)
	// drain the single burst token
	_ = s.Send(context.Background(), 1, "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, 1, "x"); err == nil {
		t.Fatal("expected limiter wait to fail on cancelled context")
	}
}
