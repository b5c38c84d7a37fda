package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ema-price-alerts/internal/signal"
)

func sampleNotification() Notification {
	return Notification{
		Job:     "btc",
		Product: "BTC-USD",
		Decision: signal.Decision{
			Fire:     true,
			Reason:   signal.ReasonArmed,
			Snapshot: signal.Snapshot{CurPrice: 43210.4, EMA: 42000, Diff: 1210.4, DiffPct: 2.88, Rising: true},
		},
		Comparisons: []Comparison{
			{Label: "1 hour", Price: decimal.NewFromInt(43000), ChangePct: decimal.RequireFromString("0.49")},
			{Label: "24 hours", Price: decimal.NewFromInt(45000), ChangePct: decimal.RequireFromString("-3.98")},
		},
		Time: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	var received telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received.ChatID != "chat" || !received.DisableWebPagePreview {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	for _, fragment := range []string{"Bitcoin's price has gone up", "$43,210", "Price 24 hours ago", "EMA: $42,000"} {
		if !strings.Contains(received.Text, fragment) {
			t.Fatalf("text 缺少 %q: %s", fragment, received.Text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestSlackNotifierPayload(t *testing.T) {
	var msg SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	notifier := NewSlackNotifier(srv.URL, "#crypto", "Cryptocorn", time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if msg.Username != "Cryptocorn" || msg.Channel != "#crypto" || msg.IconURL != IconUp {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if len(msg.Attachments) != 3 {
		t.Fatalf("expected two comparisons plus the EMA line, got %d", len(msg.Attachments))
	}
	if !strings.HasPrefix(msg.Attachments[0].Pretext, "Bitcoin's price has gone up") {
		t.Fatalf("first attachment should carry the headline: %+v", msg.Attachments[0])
	}
	if msg.Attachments[0].Color != "" || msg.Attachments[1].Color != "danger" {
		t.Fatalf("unexpected colours %q %q", msg.Attachments[0].Color, msg.Attachments[1].Color)
	}
}

func TestSlackFallingUsesDownIcon(t *testing.T) {
	note := sampleNotification()
	note.Decision.Snapshot.Rising = false
	msg := BuildSlackMessage(note)
	if msg.IconURL != IconDown {
		t.Fatalf("falling alert should use the down icon, got %s", msg.IconURL)
	}
	if !strings.Contains(msg.Attachments[0].Pretext, "gone down") {
		t.Fatalf("unexpected headline %q", msg.Attachments[0].Pretext)
	}
}

func TestSlackNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	err := NewSlackNotifier(srv.URL, "", "bot", time.Second, testLogger()).Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "invalid_token") {
		t.Fatalf("expected webhook error body in error, got %v", err)
	}
}

type recordingNotifier struct {
	err   error
	notes []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.notes = append(r.notes, n)
	return r.err
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: boom}

	multi := NewMultiNotifier()
	multi.Add("slack", bad)
	multi.Add("telegram", ok)

	err := multi.Notify(context.Background(), sampleNotification())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.notes) != 1 {
		t.Fatal("a failing channel must not stop the others")
	}
	if got := strings.Join(ok.notes[0].Channels, ","); got != "slack,telegram" {
		t.Fatalf("channels should default to registered names, got %s", got)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
