package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"brokersync/internal/broker"
	"brokersync/internal/config"
)

func TestSendDisabledIsNoop(t *testing.T) {
	tg := newTelegram(config.TelegramConfig{Enabled: false}, zap.NewNop(), "http://unused", nil)
	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("disabled notifier must swallow sends, got %v", err)
	}
}

func TestSendRequiresCredentials(t *testing.T) {
	tg := newTelegram(config.TelegramConfig{Enabled: true}, zap.NewNop(), "http://unused", nil)
	if err := tg.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("missing token/chat_id must fail")
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	tg := newTelegram(config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "1"}, zap.NewNop(), "http://unused", nil)
	if err := tg.Send(context.Background(), "  "); err == nil {
		t.Fatalf("blank message must fail")
	}
}

func TestSendPostsToBotEndpoint(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	tg := newTelegram(config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "123"},
		zap.NewNop(), server.URL, server.Client())
	if err := tg.Send(context.Background(), "BOT AAPL 40 @ 49.9 (DU1)"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/bottok/sendMessage" {
		t.Fatalf("path: %s", gotPath)
	}
	if gotPayload["chat_id"] != "123" || !strings.Contains(gotPayload["text"], "AAPL") {
		t.Fatalf("payload: %v", gotPayload)
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	tg := newTelegram(config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "123"},
		zap.NewNop(), server.URL, server.Client())
	err := tg.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestFillMessage(t *testing.T) {
	fill := broker.Fill{
		Contract:  broker.Stock("AAPL", "SMART", "USD"),
		Execution: broker.Execution{Side: "BOT", Shares: 40, Price: 49.9, Account: "DU1", Time: time.Now()},
	}
	msg := FillMessage(fill)
	if !strings.Contains(msg, "BOT") || !strings.Contains(msg, "AAPL") || !strings.Contains(msg, "49.9") {
		t.Fatalf("fill message: %q", msg)
	}
	if strings.Contains(msg, "fee") {
		t.Fatalf("no fee line before the commission report: %q", msg)
	}

	fill.Commission = broker.CommissionReport{Commission: 1.5, Currency: "USD"}
	if msg := FillMessage(fill); !strings.Contains(msg, "fee 1.5 USD") {
		t.Fatalf("fee line missing: %q", msg)
	}
}

func TestErrorMessage(t *testing.T) {
	msg := ErrorMessage("AAPL", 200, "No security definition")
	if !strings.Contains(msg, "200") || !strings.Contains(msg, "AAPL") {
		t.Fatalf("error message: %q", msg)
	}
}
