package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "msghook/internal/transport"
	logx "msghook/pkg/logx"
)

const testToken = "123:abc"

// newTestAdapter points the adapter at a local Bot API server.
func newTestAdapter(t *testing.T, h http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := newAdapter(Config{Token: testToken}, logx.Nop(), tele.Settings{URL: srv.URL, Offline: true})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestSplitTextShortIsUntouched(t *testing.T) {
	got := splitText("hello\nworld", 4000)
	if len(got) != 1 || got[0] != "hello\nworld" {
		t.Fatalf("splitText() = %q", got)
	}
}

func TestSplitTextRespectsRuneLimit(t *testing.T) {
	s := strings.Repeat("消", 9001)
	got := splitText(s, 4000)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	total := 0
	for _, c := range got {
		n := utf8.RuneCountInString(c)
		if n > 4000 {
			t.Fatalf("chunk has %d runes", n)
		}
		total += n
	}
	if total != 9001 {
		t.Fatalf("lost runes: %d", total)
	}
}

func TestSplitTextPrefersNewline(t *testing.T) {
	s := strings.Repeat("a", 80) + "\n" + strings.Repeat("b", 50)
	got := splitText(s, 100)
	if len(got) != 2 || got[0] != strings.Repeat("a", 80) || got[1] != strings.Repeat("b", 50) {
		t.Fatalf("splitText() = %q", got)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSendTextPostsChunksAndReturnsFirstID(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
	)
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+testToken+"/sendMessage" {
			http.NotFound(w, r)
			return
		}
		var params map[string]string
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		texts = append(texts, params["text"])
		id := len(texts) + 6
		mu.Unlock()
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":%s}}}`, id, params["chat_id"])
	}))

	text := strings.Repeat("a", 5000)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 100}, text, nil)
	if err != nil {
		t.Fatalf("SendText() = %v", err)
	}
	if ref.ChatID != 100 || ref.MessageID != 7 {
		t.Fatalf("ref = %+v", ref)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 2 || texts[0]+texts[1] != text {
		t.Fatalf("posted %d chunks", len(texts))
	}
}

func TestSendTextReportsAPIError(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	if _, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, "hi", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendTextHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	// Runs before the server's Close so the blocked handler can return.
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: 1}, "hi", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendText() = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("SendText took %v", took)
	}
}

func TestNewUsesConfiguredPollTimeout(t *testing.T) {
	base := tele.Settings{URL: "http://127.0.0.1:1", Offline: true}
	a, err := newAdapter(Config{Token: testToken, PollTimeout: 30 * time.Second}, logx.Nop(), base)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := a.bot.Poller.(*tele.LongPoller)
	if !ok || p.Timeout != 30*time.Second {
		t.Fatalf("poller = %#v", a.bot.Poller)
	}
}
