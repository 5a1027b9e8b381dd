package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DevelopmentJWTSecret = "development-secret-change-in-production"

type Config struct {
	// Server configuration
	Host        string
	GRPCPort    int
	RESTPort    int
	Environment string
	LogLevel    string
	CORSOrigins []string

	// Metrics configuration
	EnableMetrics bool
	MetricsPort   int

	// Storage configuration
	StoreBackend string // badger or postgres
	BadgerDir    string // empty keeps badger in memory

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration, empty address disables the snapshot cache
	RedisAddress     string
	SnapshotCacheTTL time.Duration

	// Change streams
	SubscriptionBuffer int
	FeedRetention      int

	// JWT configuration
	JWTSecret string

	// TLS, both paths or neither
	TLSCertPath string
	TLSKeyPath  string
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from .env and the environment into AppConfig.
func LoadConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads a .env file from the working directory or up to two parents,
// then builds the configuration from environment variables.
func Load() (Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	grpcPort := getEnvInt("GATEWAY_PORT", 50051)
	cfg := Config{
		Host:               getEnv("GATEWAY_HOST", "0.0.0.0"),
		GRPCPort:           grpcPort,
		RESTPort:           getEnvInt("REST_PORT", grpcPort+1000),
		Environment:        getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "")),
		EnableMetrics:      getEnvBool("ENABLE_METRICS", true),
		MetricsPort:        getEnvInt("METRICS_PORT", grpcPort+2000),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", "badger")),
		BadgerDir:          getEnv("BADGER_DIR", ""),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", "postgres"),
		DBName:             getEnv("DB_NAME", "document_gateway"),
		RedisAddress:       getEnv("REDIS_ADDRESS", ""),
		SnapshotCacheTTL:   getEnvDuration("SNAPSHOT_CACHE_TTL", 24*time.Hour),
		SubscriptionBuffer: getEnvInt("SUBSCRIPTION_BUFFER", 128),
		FeedRetention:      getEnvInt("FEED_RETENTION", 4096),
		JWTSecret:          getEnv("JWT_SECRET", DevelopmentJWTSecret),
		TLSCertPath:        getEnv("TLS_CERT_PATH", ""),
		TLSKeyPath:         getEnv("TLS_KEY_PATH", ""),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return fmt.Errorf("TLS_CERT_PATH and TLS_KEY_PATH must be set together")
	}
	if c.StoreBackend != "badger" && c.StoreBackend != "postgres" {
		return fmt.Errorf("unknown STORE_BACKEND %q, expected badger or postgres", c.StoreBackend)
	}
	if c.SubscriptionBuffer <= 0 {
		return fmt.Errorf("SUBSCRIPTION_BUFFER must be positive")
	}
	if c.FeedRetention <= 0 {
		return fmt.Errorf("FEED_RETENTION must be positive")
	}
	for name, port := range map[string]int{"GATEWAY_PORT": c.GRPCPort, "REST_PORT": c.RESTPort, "METRICS_PORT": c.MetricsPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s %d is out of range", name, port)
		}
	}
	return nil
}

func (c Config) TLSEnabled() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != ""
}

func (c Config) UsesDevelopmentSecret() bool {
	return c.JWTSecret == DevelopmentJWTSecret
}

// PostgresDSN is the connection string shared by gorm and the LISTEN connections.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c Config) GRPCAddress() string    { return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort) }
func (c Config) RESTAddress() string    { return fmt.Sprintf("%s:%d", c.Host, c.RESTPort) }
func (c Config) MetricsAddress() string { return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort) }

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
