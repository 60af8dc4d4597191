package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"autotrader/internal/models"

	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

const (
	ModeSimulation = "simulation"
	ModePaper      = "paper"
	ModeLive       = "live"
)

// Config is the immutable process configuration. Loaded and validated once
// at startup; the engine treats it as read-only.
type Config struct {
	Mode string `mapstructure:"mode"`

	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`

	WatchlistFile string `mapstructure:"watchlist_file"`
	SnapshotFile  string `mapstructure:"snapshot_file"`
	LockFile      string `mapstructure:"lock_file"`

	DB string `mapstructure:"db_dsn"`

	Log struct {
		File  string `mapstructure:"file"`
		Debug bool   `mapstructure:"debug"`
	} `mapstructure:"log"`

	Service struct {
		HealthAddr string `mapstructure:"health_addr"`
	} `mapstructure:"service"`

	Jaeger struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"jaeger"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	Risk       RiskConfig       `mapstructure:"risk"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Sentiment  SentimentConfig  `mapstructure:"sentiment"`
}

// RiskConfig. Percentages are whole numbers: 5.0 means 5%.
type RiskConfig struct {
	BasePct           float64       `mapstructure:"base_pct"`            // base position size, % of balance
	BonusPct          float64       `mapstructure:"bonus_pct"`           // confidence bonus, % of balance at confidence 1.0
	MaxPositionPct    float64       `mapstructure:"max_position_pct"`    // hard cap per position
	MaxConcurrent     int           `mapstructure:"max_concurrent"`      // max open positions
	MaxTradesPerHour  int           `mapstructure:"max_trades_per_hour"` // frequency guard window cap
	MinTradeInterval  time.Duration `mapstructure:"min_trade_interval"`
	LossHaltThreshold int           `mapstructure:"loss_halt_threshold"` // consecutive losses before halt
	DailyLossLimitPct float64       `mapstructure:"daily_loss_limit_pct"`
	StopLossPct       float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct     float64       `mapstructure:"take_profit_pct"`
	TrailingStopPct   float64       `mapstructure:"trailing_stop_pct"`
	ExitRetryMax      int           `mapstructure:"exit_retry_max"`
}

type SignalConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`

	RSIPeriod       int     `mapstructure:"rsi_period"`
	RSIOverbought   float64 `mapstructure:"rsi_overbought"`
	RSIOversold     float64 `mapstructure:"rsi_oversold"`
	EMAFast         int     `mapstructure:"ema_fast"`
	EMASlow         int     `mapstructure:"ema_slow"`
	BollingerPeriod int     `mapstructure:"bollinger_period"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	ChopThreshold   float64 `mapstructure:"choppiness_threshold"`

	MinArticles   int `mapstructure:"sentiment_min_articles"`
	LookbackHours int `mapstructure:"sentiment_lookback_hours"`

	Weights models.Weights `mapstructure:"weights"`
}

type BrokerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	PaperURL  string        `mapstructure:"paper_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`

	SimEquity float64 `mapstructure:"sim_equity"` // starting balance in simulation mode
}

type MarketDataConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	WSURL    string        `mapstructure:"ws_url"`
	Interval string        `mapstructure:"interval"`
	Lookback int           `mapstructure:"lookback"` // bars of history per snapshot
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SentimentConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	v.SetConfigFile("configs/" + configFileName)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
		// no file: run on defaults + env
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeSimulation)
	v.SetDefault("poll_interval", "30s")
	v.SetDefault("pending_timeout", "2m")
	v.SetDefault("watchlist_file", "configs/watchlist.yaml")
	v.SetDefault("snapshot_file", "data/engine_snapshot.json")
	v.SetDefault("lock_file", "data/bot.lock")
	v.SetDefault("log.file", "logs/bot.log")
	v.SetDefault("service.health_addr", ":8080")
	v.SetDefault("jaeger.host", "127.0.0.1")
	v.SetDefault("jaeger.port", 6831)

	v.SetDefault("risk.base_pct", 5.0)
	v.SetDefault("risk.bonus_pct", 10.0)
	v.SetDefault("risk.max_position_pct", 10.0)
	v.SetDefault("risk.max_concurrent", 3)
	v.SetDefault("risk.max_trades_per_hour", 2)
	v.SetDefault("risk.min_trade_interval", "5m")
	v.SetDefault("risk.loss_halt_threshold", 3)
	v.SetDefault("risk.daily_loss_limit_pct", 2.0)
	v.SetDefault("risk.stop_loss_pct", 8.0)
	v.SetDefault("risk.take_profit_pct", 16.0)
	v.SetDefault("risk.trailing_stop_pct", 5.0)
	v.SetDefault("risk.exit_retry_max", 3)

	v.SetDefault("signal.min_confidence", 0.65)
	v.SetDefault("signal.rsi_period", 14)
	v.SetDefault("signal.rsi_overbought", 70.0)
	v.SetDefault("signal.rsi_oversold", 30.0)
	v.SetDefault("signal.ema_fast", 12)
	v.SetDefault("signal.ema_slow", 26)
	v.SetDefault("signal.bollinger_period", 20)
	v.SetDefault("signal.atr_period", 14)
	v.SetDefault("signal.choppiness_threshold", 61.8)
	v.SetDefault("signal.sentiment_min_articles", 3)
	v.SetDefault("signal.sentiment_lookback_hours", 24)
	v.SetDefault("signal.weights.technical", 0.35)
	v.SetDefault("signal.weights.sentiment", 0.25)
	v.SetDefault("signal.weights.advanced", 0.20)
	v.SetDefault("signal.weights.marketcondition", 0.10)
	v.SetDefault("signal.weights.risk", 0.10)

	v.SetDefault("broker.timeout", "10s")
	v.SetDefault("broker.sim_equity", 100000.0)
	v.SetDefault("market_data.interval", "1m")
	v.SetDefault("market_data.lookback", 120)
	v.SetDefault("market_data.timeout", "10s")
	v.SetDefault("sentiment.timeout", "10s")
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSimulation, ModePaper, ModeLive:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 100 {
		return fmt.Errorf("config: risk.max_position_pct out of range: %v", c.Risk.MaxPositionPct)
	}
	if c.Risk.BasePct < 0 || c.Risk.BonusPct < 0 {
		return fmt.Errorf("config: risk.base_pct/bonus_pct must not be negative")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("config: stop_loss_pct and take_profit_pct must be positive")
	}
	if c.Risk.MaxConcurrent <= 0 {
		return fmt.Errorf("config: risk.max_concurrent must be positive")
	}
	if c.Signal.MinConfidence < 0 || c.Signal.MinConfidence > 1 {
		return fmt.Errorf("config: signal.min_confidence out of [0,1]: %v", c.Signal.MinConfidence)
	}
	w := c.Signal.Weights
	sum := w.Technical + w.Sentiment + w.Advanced + w.MarketCondition + w.Risk
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("config: signal weights must sum to 1, got %v", sum)
	}
	if c.Mode == ModeLive && (c.Broker.APIKey == "" || c.Broker.APISecret == "") {
		return fmt.Errorf("config: live mode requires broker credentials")
	}
	return nil
}
