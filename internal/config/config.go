package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               string
	ReportCacheTTLSeconds int
	LowStockThreshold     int
	ReorderThreshold      int
	ExpiryWarningDays     int
	OversellPolicy        string
	Timezone              string
	RateLimit             string
}

// Load reads the process environment. Values from ENV_FILE (default .env)
// fill in variables that are not already set. A missing file is fine; one
// that fails to parse is an error.
func Load() (Config, error) {
	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   strings.ToLower(getEnv("APP_ENV", "development")),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnv("REDIS_DB", "0"),
		ReportCacheTTLSeconds: getPositiveInt("REPORT_CACHE_TTL_SECONDS", 60),
		LowStockThreshold:     getPositiveInt("LOW_STOCK_THRESHOLD", 2),
		ReorderThreshold:      getPositiveInt("REORDER_THRESHOLD", 20),
		ExpiryWarningDays:     getPositiveInt("EXPIRY_WARNING_DAYS", 180),
		OversellPolicy:        strings.ToLower(getEnv("OVERSELL_POLICY", "allow")),
		Timezone:              getEnv("TIMEZONE", "UTC"),
		RateLimit:             getEnv("RATE_LIMIT", "300-M"),
	}

	return cfg, nil
}

// RedisDBIndex parses REDIS_DB.
func (c Config) RedisDBIndex() (int, error) {
	db, err := strconv.Atoi(c.RedisDB)
	if err != nil || db < 0 {
		return 0, fmt.Errorf("REDIS_DB must be a non-negative integer, got %q", c.RedisDB)
	}
	return db, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
