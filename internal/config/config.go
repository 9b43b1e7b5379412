package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	Broker   BrokerConfig   `yaml:"broker"`
	Session  SessionConfig  `yaml:"session"`
	Recorder RecorderConfig `yaml:"recorder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig enables fill and error notifications via a Telegram bot.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" (default) or "console"
}

type BrokerConfig struct {
	URL               string        `yaml:"url"`
	ClientID          int64         `yaml:"client_id"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	MaxDialBackoff    time.Duration `yaml:"max_dial_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type SessionConfig struct {
	Timeout              time.Duration `yaml:"timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	Account              string        `yaml:"account"`
	ReadOnly             bool          `yaml:"read_only"`
	RaiseRequestErrors   bool          `yaml:"raise_request_errors"`
	RaiseSyncErrors      bool          `yaml:"raise_sync_errors"`
	MaxSyncedSubAccounts int           `yaml:"max_synced_sub_accounts"`
	Fetch                []string      `yaml:"fetch"`
}

type RecorderConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// WatchInstrument names one instrument streamed by the daemon.
type WatchInstrument struct {
	Symbol   string `yaml:"symbol"`
	SecType  string `yaml:"sec_type"`
	Exchange string `yaml:"exchange"`
	Currency string `yaml:"currency"`
}

type WatchConfig struct {
	Instruments []WatchInstrument `yaml:"instruments"`
	Depth       bool              `yaml:"depth"`
	DepthRows   int               `yaml:"depth_rows"`
	TickByTick  bool              `yaml:"tick_by_tick"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Broker.DialTimeout == 0 {
		cfg.Broker.DialTimeout = 10 * time.Second
	}
	if cfg.Broker.MaxDialBackoff == 0 {
		cfg.Broker.MaxDialBackoff = 30 * time.Second
	}
	if cfg.Broker.RequestsPerSecond == 0 {
		cfg.Broker.RequestsPerSecond = 45
	}
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = 10 * time.Second
	}
	if cfg.Session.MaxSyncedSubAccounts == 0 {
		cfg.Session.MaxSyncedSubAccounts = 50
	}
	if len(cfg.Session.Fetch) == 0 {
		cfg.Session.Fetch = []string{"openOrders", "accountUpdates", "executions"}
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9102"
	}
	if cfg.Watch.DepthRows == 0 {
		cfg.Watch.DepthRows = 5
	}
	for i := range cfg.Watch.Instruments {
		ins := &cfg.Watch.Instruments[i]
		if ins.SecType == "" {
			ins.SecType = "STK"
		}
		if ins.Exchange == "" {
			ins.Exchange = "SMART"
		}
		if ins.Currency == "" {
			ins.Currency = "USD"
		}
	}
}

var fetchNames = map[string]struct{}{
	"openOrders":        {},
	"completedOrders":   {},
	"accountUpdates":    {},
	"subAccountUpdates": {},
	"accountSummary":    {},
	"executions":        {},
}

func validate(cfg *Config) error {
	if cfg.Broker.URL == "" {
		return errors.New("broker.url is required")
	}
	if cfg.Broker.ClientID < 0 {
		return errors.New("broker.client_id must be >= 0")
	}
	for _, name := range cfg.Session.Fetch {
		if _, ok := fetchNames[name]; !ok {
			return fmt.Errorf("session.fetch: unknown collection %q", name)
		}
	}
	return nil
}
