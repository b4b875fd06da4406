// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// TradingConfig holds the trading rule parameters.
type TradingConfig struct {
	ProfitTarget    float64 // fractional, e.g. 0.05
	StopLoss        float64 // fractional, e.g. 0.02
	MaxPositionSize float64 // max capital per position, account currency
	MaxPositions    int
	MinSentiment    float64
	MinStrength     float64 // minimum signal strength to act on
	PaperTrading    bool
}

// SentimentConfig holds the Reddit scraping parameters.
type SentimentConfig struct {
	MinMentions    int
	Subreddit      string
	PostLimit      int
	WindowHours    int // only posts younger than this are scored
	MaxWatchlist   int // websocket subscription cap
	DefaultSymbols []string
}

// AlpacaConfig holds broker API credentials and endpoints.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	StreamURL string
}

// BackupConfig holds the optional S3-compatible snapshot backup settings.
// Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Bucket    string
	Endpoint  string // S3-compatible endpoint, empty for AWS
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds application configuration
type Config struct {
	DataDir   string // journal, error log and state snapshots live here
	LogLevel  string
	Port      int
	DevMode   bool
	Trading   TradingConfig
	Sentiment SentimentConfig
	Alpaca    AlpacaConfig
	Backup    BackupConfig
}

// Load reads configuration from environment variables. A .env file is
// honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvInt("PORT", 8080),
		DevMode:  getEnvBool("DEV_MODE", false),
		Trading: TradingConfig{
			ProfitTarget:    getEnvFloat("PROFIT_TARGET", 0.05),
			StopLoss:        getEnvFloat("STOP_LOSS", 0.02),
			MaxPositionSize: getEnvFloat("MAX_POSITION_SIZE", 100.0),
			MaxPositions:    getEnvInt("MAX_POSITIONS", 5),
			MinSentiment:    getEnvFloat("MIN_SENTIMENT", 0.3),
			MinStrength:     getEnvFloat("MIN_STRENGTH", 0.3),
			PaperTrading:    getEnvBool("PAPER_TRADING", true),
		},
		Sentiment: SentimentConfig{
			MinMentions:    getEnvInt("MIN_MENTIONS", 3),
			Subreddit:      getEnv("SUBREDDIT", "wallstreetbets"),
			PostLimit:      getEnvInt("REDDIT_POST_LIMIT", 100),
			WindowHours:    getEnvInt("SENTIMENT_WINDOW_HOURS", 2),
			MaxWatchlist:   getEnvInt("MAX_WATCHLIST", 30),
			DefaultSymbols: []string{"SPY", "QQQ", "AAPL", "TSLA", "NVDA"},
		},
		Alpaca: AlpacaConfig{
			APIKey:    getEnv("ALPACA_KEY", ""),
			APISecret: getEnv("ALPACA_SECRET", ""),
			BaseURL:   getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
			StreamURL: getEnv("ALPACA_STREAM_URL", "wss://stream.data.alpaca.markets/v2/iex"),
		},
		Backup: BackupConfig{
			Bucket:    getEnv("BACKUP_BUCKET", ""),
			Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
			Region:    getEnv("BACKUP_REGION", "auto"),
			AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
		},
	}

	return cfg, nil
}

// Validate checks every numeric field against its documented bounds. The
// orchestrator refuses to enter Running on any violation.
func (c *Config) Validate() error {
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		return fmt.Errorf("alpaca API credentials not set")
	}
	if c.Trading.ProfitTarget <= 0 || c.Trading.ProfitTarget >= 1 {
		return fmt.Errorf("profit target must be between 0 and 1, got %v", c.Trading.ProfitTarget)
	}
	if c.Trading.StopLoss <= 0 || c.Trading.StopLoss >= 1 {
		return fmt.Errorf("stop loss must be between 0 and 1, got %v", c.Trading.StopLoss)
	}
	if c.Trading.MaxPositionSize <= 0 {
		return fmt.Errorf("max position size must be positive, got %v", c.Trading.MaxPositionSize)
	}
	if c.Trading.MaxPositions < 1 {
		return fmt.Errorf("max positions must be at least 1, got %d", c.Trading.MaxPositions)
	}
	if c.Trading.MinSentiment < -1 || c.Trading.MinSentiment > 1 {
		return fmt.Errorf("min sentiment must be in [-1, 1], got %v", c.Trading.MinSentiment)
	}
	if c.Trading.MinStrength < 0 || c.Trading.MinStrength > 1 {
		return fmt.Errorf("min strength must be in [0, 1], got %v", c.Trading.MinStrength)
	}
	if c.Sentiment.MinMentions < 1 {
		return fmt.Errorf("min mentions must be at least 1, got %d", c.Sentiment.MinMentions)
	}
	if c.Sentiment.MaxWatchlist < 1 {
		return fmt.Errorf("max watchlist must be at least 1, got %d", c.Sentiment.MaxWatchlist)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1, 65535], got %d", c.Port)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
