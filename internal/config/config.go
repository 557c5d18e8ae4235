package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendSupabase  = "supabase"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Config holds all application configuration.
// Values come from environment variables, then an optional .env file, then defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Document store
	StoreBackend string

	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	FirestoreProjectID       string
	FirestoreCredentialsFile string

	MemstoreSeedFile string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Page engine
	InQueryLimit     int
	SessionTTL       time.Duration
	Timezone         string
	BaseKind         string
	ExcludedCategory string

	RefreshRatePerSec float64
	RefreshBurst      int

	// Shared entity cache (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Observability
	OTLPEndpoint string
}

var defaults = map[string]any{
	"PORT":                        8080,
	"LOG_LEVEL":                   "info",
	"STORE_BACKEND":               BackendSupabase,
	"SUPABASE_URL":                "",
	"SUPABASE_ANON_KEY":           "",
	"SUPABASE_SERVICE_ROLE_KEY":   "",
	"FIRESTORE_PROJECT_ID":        "",
	"FIRESTORE_CREDENTIALS_FILE":  "",
	"MEMSTORE_SEED_FILE":          "",
	"HTTP_TIMEOUT":                10 * time.Second,
	"MAX_RETRIES":                 3,
	"INITIAL_BACKOFF":             100 * time.Millisecond,
	"MAX_CONCURRENCY":             16,
	"IN_QUERY_LIMIT":              10,
	"SESSION_TTL":                 30 * time.Minute,
	"TIMEZONE":                    "America/Sao_Paulo",
	"BASE_KIND":                   "income",
	"EXCLUDED_CATEGORY":           "opening_balance",
	"REFRESH_RATE_PER_SEC":        1.0,
	"REFRESH_BURST":               3,
	"REDIS_ADDR":                  "",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"REDIS_TTL":                   time.Hour,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
}

// Load reads the configuration. dotenvPath names an optional KEY=VALUE file
// for local development; a missing file is not an error and real environment
// variables always win over it.
func Load(dotenvPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if dotenvPath != "" {
		v.SetConfigFile(dotenvPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isMissing(err) {
			return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),

		StoreBackend: strings.ToLower(v.GetString("STORE_BACKEND")),

		SupabaseURL:        v.GetString("SUPABASE_URL"),
		SupabaseAnonKey:    v.GetString("SUPABASE_ANON_KEY"),
		SupabaseServiceKey: v.GetString("SUPABASE_SERVICE_ROLE_KEY"),

		FirestoreProjectID:       v.GetString("FIRESTORE_PROJECT_ID"),
		FirestoreCredentialsFile: v.GetString("FIRESTORE_CREDENTIALS_FILE"),

		MemstoreSeedFile: v.GetString("MEMSTORE_SEED_FILE"),

		HTTPTimeout: v.GetDuration("HTTP_TIMEOUT"),

		MaxRetries:     v.GetInt("MAX_RETRIES"),
		InitialBackoff: v.GetDuration("INITIAL_BACKOFF"),
		MaxConcurrency: v.GetInt("MAX_CONCURRENCY"),

		InQueryLimit:     v.GetInt("IN_QUERY_LIMIT"),
		SessionTTL:       v.GetDuration("SESSION_TTL"),
		Timezone:         v.GetString("TIMEZONE"),
		BaseKind:         v.GetString("BASE_KIND"),
		ExcludedCategory: v.GetString("EXCLUDED_CATEGORY"),

		RefreshRatePerSec: v.GetFloat64("REFRESH_RATE_PER_SEC"),
		RefreshBurst:      v.GetInt("REFRESH_BURST"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisTTL:      v.GetDuration("REDIS_TTL"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backend is fully configured.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			return errors.New("config: SUPABASE_URL is required for the supabase backend")
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return errors.New("config: FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.InQueryLimit < 1 || c.InQueryLimit > 10 {
		return fmt.Errorf("config: IN_QUERY_LIMIT must be between 1 and 10, got %d", c.InQueryLimit)
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func isMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
