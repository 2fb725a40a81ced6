package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"perpagent/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API (optional; public market data works without keys)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Basket
	Basket         []string // Symbols the scheduler considers for entries
	AssetsPerCycle int      // How many basket assets one cycle samples

	// Risk Parameters
	MaxLeverage    int
	RiskPerTrade   float64 // Fraction of balance committed per entry
	StopLossPct    float64 // Loss fraction of notional that forces a close
	TakeProfitPct  float64 // Profit fraction of notional that takes profit
	FeeRate        float64 // Per-side trading fee rate
	InitialBalance float64 // Virtual portfolio starting balance
	MinConfidence  int     // Decisions at or below this confidence are ignored

	// Timing
	AnalysisInterval  time.Duration // Decision cycle period
	CandleWindow      time.Duration // Fixed OHLC aggregation window
	ReconnectDelay    time.Duration // Feed reconnect delay after a drop
	ConnectRetryDelay time.Duration // Feed retry delay after a failed connect
	ReportChance      float64       // Per-cycle probability of a summary report

	// Decision Provider
	AdvisorURL    string
	AdvisorAPIKey string
	AdvisorModel  string

	// Notifications (optional)
	TelegramToken  string
	TelegramChatID int64

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "text" or "json"
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	basketStr := getEnv("BASKET", "BTCUSDT,ETHUSDT,SOLUSDT")
	for _, sym := range strings.Split(basketStr, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			cfg.Basket = append(cfg.Basket, sym)
		}
	}
	if len(cfg.Basket) == 0 {
		errs = append(errs, "BASKET must list at least one symbol")
	}

	cfg.AssetsPerCycle = getEnvAsInt("ASSETS_PER_CYCLE", 1)
	if cfg.AssetsPerCycle <= 0 {
		errs = append(errs, "ASSETS_PER_CYCLE must be positive")
	}

	cfg.MaxLeverage, err = getEnvAsIntRequired("MAX_LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_LEVERAGE: %v", err))
	} else if cfg.MaxLeverage <= 0 {
		errs = append(errs, "MAX_LEVERAGE must be positive")
	}

	cfg.RiskPerTrade, err = getEnvAsFloatRequired("RISK_PER_TRADE", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PER_TRADE: %v", err))
	} else if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade >= 1.0 {
		errs = append(errs, "RISK_PER_TRADE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1.0 {
		errs = append(errs, "STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfitPct, err = getEnvAsFloatRequired("TAKE_PROFIT_PCT", 0.04)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	} else if cfg.TakeProfitPct <= 0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be positive")
	}

	cfg.FeeRate, err = getEnvAsFloatRequired("FEE_RATE", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if cfg.FeeRate < 0 || cfg.FeeRate >= 1.0 {
		errs = append(errs, "FEE_RATE must be between 0.0 (inclusive) and 1.0")
	}

	cfg.InitialBalance, err = getEnvAsFloatRequired("INITIAL_BALANCE", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BALANCE: %v", err))
	} else if cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive")
	}

	cfg.MinConfidence = getEnvAsInt("MIN_CONFIDENCE", 75)
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
		errs = append(errs, "MIN_CONFIDENCE must be between 0 and 100")
	}

	analysisMinutes := getEnvAsInt("ANALYSIS_INTERVAL_MINUTES", 3)
	if analysisMinutes <= 0 {
		errs = append(errs, "ANALYSIS_INTERVAL_MINUTES must be positive")
	}
	cfg.AnalysisInterval = time.Duration(analysisMinutes) * time.Minute

	candleSeconds := getEnvAsInt("CANDLE_WINDOW_SECONDS", 900)
	if candleSeconds <= 0 {
		errs = append(errs, "CANDLE_WINDOW_SECONDS must be positive")
	}
	cfg.CandleWindow = time.Duration(candleSeconds) * time.Second

	reconnectSeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 2)
	if reconnectSeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectSeconds) * time.Second

	retrySeconds := getEnvAsInt("CONNECT_RETRY_DELAY_SECONDS", 5)
	if retrySeconds <= 0 {
		errs = append(errs, "CONNECT_RETRY_DELAY_SECONDS must be positive")
	}
	cfg.ConnectRetryDelay = time.Duration(retrySeconds) * time.Second

	cfg.ReportChance = getEnvAsFloat("REPORT_CHANCE", 0.005)
	if cfg.ReportChance < 0 || cfg.ReportChance > 1.0 {
		errs = append(errs, "REPORT_CHANCE must be between 0.0 and 1.0")
	}

	cfg.AdvisorURL = getEnv("ADVISOR_URL", "https://api.mistral.ai/v1/chat/completions")
	cfg.AdvisorAPIKey = getEnv("ADVISOR_API_KEY", "")
	cfg.AdvisorModel = getEnv("ADVISOR_MODEL", "mistral-small-latest")
	if cfg.AdvisorAPIKey == "" {
		errs = append(errs, "ADVISOR_API_KEY must be set")
	}

	cfg.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "")
	if chatIDStr != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
		}
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		errs = append(errs, "TELEGRAM_CHAT_ID must be set when TELEGRAM_TOKEN is set")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/perpagent.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be 'text' or 'json'")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
