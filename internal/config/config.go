// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"oracle-go/internal/signal"
)

// App captures process-wide runtime settings such as name, environment, listeners, and logging.
type App struct {
	Name        string `yaml:"name" default:"oracle"`
	Env         string `yaml:"env" default:"dev"`
	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
	APIAddr     string `yaml:"api_addr" default:":8080"`
	LogLevel    string `yaml:"log_level" default:"info"`
	LogFormat   string `yaml:"log_format" default:"json" validate:"oneof=json console"`
}

// Exchange describes market data connectivity: streaming provider, REST source, and timers.
type Exchange struct {
	Provider          string   `yaml:"provider" default:"bybit" validate:"oneof=stub bybit binance"`
	Symbols           []string `yaml:"symbols" validate:"min=1,dive,required"`
	StreamURL         string   `yaml:"stream_url"`
	RESTURL           string   `yaml:"rest_url"`
	APIKey            string   `yaml:"api_key"`
	APISecret         string   `yaml:"api_secret"`
	ReconnectMinMs    int      `yaml:"reconnect_min_ms" default:"3000" validate:"gt=0"`
	ReconnectMaxMs    int      `yaml:"reconnect_max_ms" default:"60000" validate:"gtefield=ReconnectMinMs"`
	PingIntervalMs    int      `yaml:"ping_interval_ms" default:"15000" validate:"gt=0"`
	FetchAttempts     int      `yaml:"fetch_attempts" default:"3" validate:"min=1,max=10"`
	FetchMinDelayMs   int      `yaml:"fetch_min_delay_ms" default:"500" validate:"gt=0"`
	FetchMaxDelayMs   int      `yaml:"fetch_max_delay_ms" default:"4000" validate:"gtefield=FetchMinDelayMs"`
	RefreshIntervalMs int      `yaml:"refresh_interval_ms" default:"30000" validate:"gt=0"`
	ScanIntervalMs    int      `yaml:"scan_interval_ms" default:"1000" validate:"gt=0"`
}

// Sentiment configures the market mood index poller.
type Sentiment struct {
	Enabled           bool   `yaml:"enabled" default:"true"`
	URL               string `yaml:"url" default:"https://api.alternative.me/fng/?limit=1" validate:"required_if=Enabled true"`
	RefreshIntervalMs int    `yaml:"refresh_interval_ms" default:"300000" validate:"gt=0"`
}

// Horizon names one prediction lookahead.
type Horizon struct {
	Key     string `yaml:"key" validate:"required"`
	Seconds int    `yaml:"seconds" validate:"gt=0"`
}

// Indicators tunes the factor pipeline.
type Indicators struct {
	CandleWindow int     `yaml:"candle_window" default:"100" validate:"gtefield=MinPoints"`
	MinPoints    int     `yaml:"min_points" default:"30" validate:"min=2"`
	RSIPeriod    int     `yaml:"rsi_period" default:"14" validate:"gt=0"`
	RSIScale     float64 `yaml:"rsi_scale" default:"50" validate:"gt=0"`
	MACDScale    float64 `yaml:"macd_scale" default:"500" validate:"gt=0"`
	ROCPeriod    int     `yaml:"roc_period" default:"10" validate:"gt=0"`
	ROCScale     float64 `yaml:"roc_scale" default:"1" validate:"gt=0"`
	FundingScale float64 `yaml:"funding_scale" default:"1000" validate:"gt=0"`
}

// Weights holds the fixed linear combination used for the composite score.
type Weights struct {
	RSI       float64 `yaml:"rsi" default:"0.20"`
	MACD      float64 `yaml:"macd" default:"0.20"`
	Bollinger float64 `yaml:"bollinger" default:"0.15"`
	ROC       float64 `yaml:"roc" default:"0.15"`
	OrderFlow float64 `yaml:"orderflow" default:"0.10"`
	Funding   float64 `yaml:"funding" default:"0.05"`
	Sentiment float64 `yaml:"sentiment" default:"0.15"`
}

// AbsSum returns the sum of absolute weights.
func (w Weights) AbsSum() float64 {
	return math.Abs(w.RSI) + math.Abs(w.MACD) + math.Abs(w.Bollinger) + math.Abs(w.ROC) +
		math.Abs(w.OrderFlow) + math.Abs(w.Funding) + math.Abs(w.Sentiment)
}

// Prediction captures paper prediction knobs.
type Prediction struct {
	Stake       float64 `yaml:"stake" default:"100" validate:"gt=0"`
	Volatility  float64 `yaml:"volatility" default:"0.008" validate:"gt=0"`
	MinRawScore float64 `yaml:"min_raw_score" default:"1.5" validate:"gte=0"`
	HistorySize int     `yaml:"history_size" default:"20" validate:"min=20,max=50"`
}

// Storage configures settlement sinks. Empty paths or addresses disable the sink.
type Storage struct {
	TradesPath    string `yaml:"trades_path" default:"data/trades.jsonl"`
	JournalPath   string `yaml:"journal_path" default:"data/journal.db"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel" default:"oracle:settlements"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Exchange   Exchange   `yaml:"exchange"`
	Sentiment  Sentiment  `yaml:"sentiment"`
	Horizons   []Horizon  `yaml:"horizons" validate:"min=1,dive"`
	Indicators Indicators `yaml:"indicators"`
	Weights    Weights    `yaml:"weights"`
	Prediction Prediction `yaml:"prediction"`
	Storage    Storage    `yaml:"storage"`
}

// SetDefaults fills list-valued defaults that struct tags cannot express.
func (c *Config) SetDefaults() {
	if len(c.Exchange.Symbols) == 0 {
		c.Exchange.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	}
	if len(c.Horizons) == 0 {
		c.Horizons = []Horizon{
			{Key: "1m", Seconds: 60},
			{Key: "5m", Seconds: 300},
			{Key: "15m", Seconds: 900},
			{Key: "1h", Seconds: 3600},
			{Key: "4h", Seconds: 14400},
		}
	}
}

var validate = validator.New()

// ErrWeightsOutOfRange reports weights whose absolute sum exceeds one.
var ErrWeightsOutOfRange = errors.New("weights must sum to at most 1")

// Default returns a Config populated only from defaults.
func Default() *Config {
	var cfg Config
	_ = defaults.Set(&cfg)
	return &cfg
}

// Load reads a YAML file from disk and hydrates a Config struct over the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.Exchange.Symbols = normalizeSymbols(config.Exchange.Symbols)
	return &config, nil
}

// LoadWithEnv loads the YAML file, applies .env and environment overrides, then validates.
func LoadWithEnv(path, envFile string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ORACLE_PROVIDER"); v != "" {
		c.Exchange.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("ORACLE_SYMBOLS"); v != "" {
		c.Exchange.Symbols = normalizeSymbols(strings.Split(v, ","))
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Weights.AbsSum() > 1+1e-9 {
		return fmt.Errorf("invalid config: %w (got %.3f)", ErrWeightsOutOfRange, c.Weights.AbsSum())
	}
	seen := make(map[string]struct{}, len(c.Horizons))
	for _, h := range c.Horizons {
		if _, dup := seen[h.Key]; dup {
			return fmt.Errorf("invalid config: duplicate horizon %q", h.Key)
		}
		seen[h.Key] = struct{}{}
	}
	return nil
}

// SignalHorizons converts configured horizons into domain values, preserving order.
func (c *Config) SignalHorizons() []signal.Horizon {
	out := make([]signal.Horizon, 0, len(c.Horizons))
	for _, h := range c.Horizons {
		out = append(out, signal.Horizon{Key: h.Key, Duration: time.Duration(h.Seconds) * time.Second})
	}
	return out
}

// Millis converts a millisecond knob into a duration.
func Millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// normalizeSymbols upper-cases and trims instrument names, dropping blanks
// and duplicates while keeping the configured order.
func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, sym := range in {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			out = append(out, sym)
		}
	}
	return lo.Uniq(out)
}
