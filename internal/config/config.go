package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server
	Port string

	// Database (ledger)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth (single admin user)
	AdminUsername string
	AdminPassword string // plaintext in env for initial setup, hashed on boot
	JWTSecret     string

	// Storefront data
	DataDir     string // holds products.json and the autoheal state files
	StoreURL    string // base URL probed for liveness
	Environment string // development, staging, production

	// LLM triage
	LLMAPIKey string
	LLMAPIURL string
	LLMModel  string

	// E2E test runner
	TestCommand    string // external command producing a JSON report on stdout
	TestTimeoutSec int

	// Alert notification
	AlertWebhookURL   string
	AlertWebhookToken string
	AlertsEnabled     bool
}

func Load() *Config {
	testTimeout, _ := strconv.Atoi(getEnv("AUTOHEAL_TEST_TIMEOUT_SEC", "120"))
	return &Config{
		Port:              getEnv("PORT", "8098"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "autoheal_db"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		DataDir:           getEnv("DATA_DIR", "data"),
		StoreURL:          getEnv("STORE_URL", "http://localhost:3000"),
		Environment:       getEnv("NODE_ENV", getEnv("APP_ENV", "development")),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		LLMAPIURL:         getEnv("LLM_API_URL", "https://api.openai.com/v1/chat/completions"),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		TestCommand:       getEnv("AUTOHEAL_TEST_COMMAND", ""),
		TestTimeoutSec:    testTimeout,
		AlertWebhookURL:   getEnv("ALERT_WEBHOOK_URL", ""),
		AlertWebhookToken: getEnv("ALERT_WEBHOOK_TOKEN", ""),
		AlertsEnabled:     getEnv("ALERTS_ENABLED", "true") == "true",
	}
}

// IsDeployment reports whether the process runs in a deployed environment,
// where the lockdown policy in settings.Effective applies.
func (c *Config) IsDeployment() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
