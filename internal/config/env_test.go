package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "# comment\n\nBROKERSYNC_TEST_A=plain\nBROKERSYNC_TEST_B=\"quoted value\"\nBROKERSYNC_TEST_C='single'\nnot a pair\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("BROKERSYNC_TEST_A", "")
	os.Unsetenv("BROKERSYNC_TEST_A")
	t.Setenv("BROKERSYNC_TEST_B", "")
	os.Unsetenv("BROKERSYNC_TEST_B")
	t.Setenv("BROKERSYNC_TEST_C", "")
	os.Unsetenv("BROKERSYNC_TEST_C")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("BROKERSYNC_TEST_A"); got != "plain" {
		t.Fatalf("plain value: %q", got)
	}
	if got := os.Getenv("BROKERSYNC_TEST_B"); got != "quoted value" {
		t.Fatalf("quoted value: %q", got)
	}
	if got := os.Getenv("BROKERSYNC_TEST_C"); got != "single" {
		t.Fatalf("single-quoted value: %q", got)
	}
}

func TestLoadEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("BROKERSYNC_TEST_KEEP=file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("BROKERSYNC_TEST_KEEP", "process")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("BROKERSYNC_TEST_KEEP"); got != "process" {
		t.Fatalf("existing variable must win, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file must be ignored: %v", err)
	}
}

func TestApplyEnvOverlaysSecrets(t *testing.T) {
	t.Setenv("BROKERSYNC_BROKER_URL", "ws://gw:4002/ws")
	t.Setenv("BROKERSYNC_CLIENT_ID", "12")
	t.Setenv("BROKERSYNC_TELEGRAM_TOKEN", "tok")
	t.Setenv("BROKERSYNC_TELEGRAM_CHAT_ID", "chat")

	cfg := &Config{}
	applyEnv(cfg)
	if cfg.Broker.URL != "ws://gw:4002/ws" || cfg.Broker.ClientID != 12 {
		t.Fatalf("broker overlay: %+v", cfg.Broker)
	}
	if cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != "chat" {
		t.Fatalf("telegram overlay: %+v", cfg.Telegram)
	}
}
