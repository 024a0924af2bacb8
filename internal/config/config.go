package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultMoyasarBaseURL = "https://api.moyasar.com/v1"
	defaultHTTPTimeout    = 15 * time.Second
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	// Moyasar plugin settings
	MoyasarActive              bool
	MoyasarPublicKey           string
	MoyasarSecretKey           string
	MoyasarSupportedCurrencies []string
	MoyasarBaseURL             string
	MoyasarHTTPTimeout         time.Duration

	// HS256 secret used to sign platform service tokens
	ServiceJWTSecret  string
	InternalSecretKey string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    os.Getenv("APP_PORT"),
		AppEnv:     os.Getenv("APP_ENV"),

		MoyasarActive:              parseBool(os.Getenv("MOYASAR_ACTIVE"), true),
		MoyasarPublicKey:           os.Getenv("MOYASAR_PUBLIC_API_KEY"),
		MoyasarSecretKey:           os.Getenv("MOYASAR_SECRET_API_KEY"),
		MoyasarSupportedCurrencies: SplitList(os.Getenv("MOYASAR_SUPPORTED_CURRENCIES")),
		MoyasarBaseURL:             os.Getenv("MOYASAR_BASE_URL"),
		MoyasarHTTPTimeout:         parseDuration(os.Getenv("MOYASAR_HTTP_TIMEOUT"), defaultHTTPTimeout),

		ServiceJWTSecret:  os.Getenv("SERVICE_JWT_SECRET"),
		InternalSecretKey: os.Getenv("INTERNAL_SECRET_KEY"),
	}

	if cfg.MoyasarBaseURL == "" {
		cfg.MoyasarBaseURL = defaultMoyasarBaseURL
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8080"
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

// SplitList parses a comma separated list such as "SAR, USD" and drops blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
