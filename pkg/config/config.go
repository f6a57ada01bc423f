package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// AI / LLM
	// AI_PROVIDER: "anthropic" | "openai" | "ollama" (explicit selection)
	// If not set, auto-detects from available API keys
	AIProvider      string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaURL       string // e.g. http://localhost:11434
	AIModel         string
	AIMaxTokens     int

	// Agent loop
	MaxIterations int

	// Providers
	BlockchainAPIURL string // Bitcoin explorer (blockchain.info compatible)
	EtherscanAPIURL  string
	EtherscanAPIKey  string

	// Min delay between requests to the same provider
	BitcoinRateDelay  time.Duration
	EthereumRateDelay time.Duration

	// Cache / store
	DBPath string

	// Watch mode: wallets refreshed on a schedule
	WatchedWallets []string
	RefreshSpec    string // cron expression

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OllamaURL:       os.Getenv("OLLAMA_URL"),
		AIProvider:      os.Getenv("AI_PROVIDER"),
		AIModel:         envOr("AI_MODEL", ""), // auto-resolved per provider
		AIMaxTokens:     envInt("AI_MAX_TOKENS", 4096),

		MaxIterations: envInt("MAX_ITERATIONS", 10),

		BlockchainAPIURL: envOr("BLOCKCHAIN_API_URL", "https://blockchain.info"),
		EtherscanAPIURL:  envOr("ETHERSCAN_API_URL", "https://api.etherscan.io/api"),
		EtherscanAPIKey:  os.Getenv("ETHERSCAN_API_KEY"),

		BitcoinRateDelay:  time.Duration(envInt("BTC_RATE_DELAY_MS", 600)) * time.Millisecond,
		EthereumRateDelay: time.Duration(envInt("ETH_RATE_DELAY_MS", 220)) * time.Millisecond,

		DBPath: envOr("DB_PATH", "wallet_agent.db"),

		WatchedWallets: splitTrim(os.Getenv("WATCHED_WALLETS")),
		RefreshSpec:    envOr("REFRESH_CRON", "@every 30m"),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" && c.OllamaURL == "" {
		return fmt.Errorf("no AI provider configured: set ANTHROPIC_API_KEY, OPENAI_API_KEY, or OLLAMA_URL")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("MAX_ITERATIONS must be positive, got %d", c.MaxIterations)
	}
	return nil
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
