package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Trading modes. Backtest replays historical bars and exits; paper trades a
// simulated account against live or mock data; live trades real capital.
const (
	ModeBacktest = "backtest"
	ModePaper    = "paper"
	ModeLive     = "live"
)

// Config holds environment-driven settings for the trading agent.
type Config struct {
	Mode    string // "paper" (default), "live", "backtest"
	Port    string
	Symbols []string

	// Engine cadence
	CycleIntervalSec int // seconds between evaluation cycles
	LookbackBars     int // bars fetched per symbol per cycle

	// Strategy
	StrategyConfigPath string // YAML strategy definitions
	ShortWindow        int
	LongWindow         int
	VolumeThreshold    float64
	StopLossPct        float64
	MinConfidence      float64

	// Risk
	MaxOrderNotional float64
	MaxDailyLoss     float64
	OversizePolicy   string // "clamp" (default) or "reject"
	TradingEnabled   bool   // default state of the kill switch

	// Market data
	UseMockFeed bool
	MockSeed    int64 // 0 = time-seeded

	// Alpaca brokerage
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaBaseURL   string
	AlpacaDataURL   string
	AlpacaStreamURL string
	UseStream       bool

	// Paper simulation
	PaperInitialCash float64
	PaperFeeRate     float64 // decimal (e.g. 0.0004 = 4 bps)
	PaperSlippageBps float64

	// Order journal
	EnableOrderJournal bool
	OrderJournalDir    string

	// Market hours
	MarketHoursOnly bool
	FlattenTime     string // "HH:MM" intraday close-all, empty disables

	// Screener
	UseDailySelection bool
	UniverseFile      string
	ScreenerTopN      int
	ScreenerMinMove   float64 // percent
	ScreenerMinVolume float64

	// Backtest
	BacktestDataDir string
	BacktestStart   string // YYYY-MM-DD, empty = from data
	BacktestEnd     string

	// Database
	DBPath string

	// Auth / control
	JWTSecret string
	KillToken string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the agent still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Mode:               strings.ToLower(getEnv("MODE", ModePaper)),
		Port:               getEnv("PORT", "8000"),
		Symbols:            splitAndTrim(getEnv("SYMBOLS", "AAPL,MSFT,NVDA")),
		CycleIntervalSec:   getEnvInt("CYCLE_INTERVAL_SEC", 60),
		LookbackBars:       getEnvInt("LOOKBACK_BARS", 100),
		StrategyConfigPath: getEnv("STRATEGY_CONFIG", ""),
		ShortWindow:        getEnvInt("SHORT_WINDOW", 5),
		LongWindow:         getEnvInt("LONG_WINDOW", 20),
		VolumeThreshold:    getEnvFloat("VOLUME_THRESHOLD", 1.5),
		StopLossPct:        getEnvFloat("STOP_LOSS_PCT", 0.02),
		MinConfidence:      getEnvFloat("MIN_CONFIDENCE", 0.7),
		MaxOrderNotional:   getEnvFloat("MAX_USD_PER_ORDER", 1000.0),
		MaxDailyLoss:       getEnvFloat("MAX_DAILY_LOSS", 500.0),
		OversizePolicy:     strings.ToLower(getEnv("RISK_OVERSIZE_POLICY", "clamp")),
		TradingEnabled:     getEnv("TRADING_ENABLED", "true") == "true",
		UseMockFeed:        getEnv("USE_MOCK_FEED", "true") == "true",
		MockSeed:           int64(getEnvInt("MOCK_FEED_SEED", 0)),
		AlpacaAPIKey:       os.Getenv("ALPACA_API_KEY"),
		AlpacaAPISecret:    os.Getenv("ALPACA_API_SECRET"),
		AlpacaBaseURL:      getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		AlpacaDataURL:      getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		AlpacaStreamURL:    getEnv("ALPACA_STREAM_URL", "wss://stream.data.alpaca.markets/v2/iex"),
		UseStream:          getEnv("USE_STREAM", "false") == "true",
		PaperInitialCash:   getEnvFloat("PAPER_INITIAL_CASH", 100000.0),
		PaperFeeRate:       getEnvFloat("PAPER_FEE_RATE", 0.0),
		PaperSlippageBps:   getEnvFloat("PAPER_SLIPPAGE_BPS", 0),
		EnableOrderJournal: getEnv("ENABLE_ORDER_JOURNAL", "true") == "true",
		OrderJournalDir:    getEnv("ORDER_JOURNAL_DIR", "./data/order_journal"),
		MarketHoursOnly:    getEnv("MARKET_HOURS_ONLY", "false") == "true",
		FlattenTime:        getEnv("FLATTEN_TIME", ""),
		UseDailySelection:  getEnv("USE_DAILY_SELECTION", "false") == "true",
		UniverseFile:       getEnv("UNIVERSE_FILE", ""),
		ScreenerTopN:       getEnvInt("SCREENER_TOP_N", 5),
		ScreenerMinMove:    getEnvFloat("SCREENER_MIN_MOVE_PCT", 2.0),
		ScreenerMinVolume:  getEnvFloat("SCREENER_MIN_VOLUME", 1000000),
		BacktestDataDir:    getEnv("BACKTEST_DATA_DIR", "./data/bars"),
		BacktestStart:      getEnv("BACKTEST_START", ""),
		BacktestEnd:        getEnv("BACKTEST_END", ""),
		DBPath:             getEnv("DB_PATH", "./data/agent.db"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		KillToken:          getEnv("KILL_TOKEN", "let-me-in"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeBacktest, ModePaper, ModeLive:
	default:
		return fmt.Errorf("invalid MODE %q (want backtest, paper or live)", c.Mode)
	}
	switch c.OversizePolicy {
	case "clamp", "reject":
	default:
		return fmt.Errorf("invalid RISK_OVERSIZE_POLICY %q (want clamp or reject)", c.OversizePolicy)
	}
	if c.ShortWindow <= 0 || c.LongWindow <= c.ShortWindow {
		return fmt.Errorf("invalid SMA windows: short=%d long=%d", c.ShortWindow, c.LongWindow)
	}
	if c.Mode == ModeLive && (c.AlpacaAPIKey == "" || c.AlpacaAPISecret == "") {
		return fmt.Errorf("live mode requires ALPACA_API_KEY and ALPACA_API_SECRET")
	}
	if len(c.Symbols) == 0 && !c.UseDailySelection {
		return fmt.Errorf("no symbols configured (set SYMBOLS or USE_DAILY_SELECTION)")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
