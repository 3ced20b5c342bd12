package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider backends
const (
	ProviderAPI     = "api"
	ProviderOffline = "offline"
	ProviderMock    = "mock"
)

// Config holds all configuration for the allergen scanner
type Config struct {
	// Auth
	AuthToken string

	// Server
	Port        string
	Environment string

	// Persistence
	StorePath       string
	SerializeWrites bool

	// Food provider
	Provider       string
	APIBaseURL     string
	LookupTimeout  time.Duration
	LookupRetries  int
	SearchPageSize int

	// Offline dataset
	ParquetURL           string
	DataDir              string
	ParquetPath          string
	MetadataPath         string
	LockFile             string
	RefreshIntervalHours int
	DisableRemoteCheck   bool
	IgnoreLock           bool
}

// Load reads configuration from a .env file (if present) and environment variables.
// Variables already set in the environment win over the .env file.
func Load() *Config {
	_ = godotenv.Load()
	return fromEnv()
}

// LoadFile is Load with an explicit .env path; a missing file is ignored
func LoadFile(path string) *Config {
	if path != "" {
		_ = godotenv.Load(path)
	}
	return fromEnv()
}

func fromEnv() *Config {
	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		AuthToken:            getEnv("AUTH_TOKEN", "super-secret-token"),
		Port:                 getEnv("PORT", "8080"),
		Environment:          getEnv("ENV", "production"),
		StorePath:            getEnv("STORE_PATH", filepath.Join(dataDir, "allergen-scanner.db")),
		SerializeWrites:      getEnvBool("SERIALIZE_WRITES", true),
		Provider:             strings.ToLower(getEnv("PROVIDER", ProviderAPI)),
		APIBaseURL:           strings.TrimRight(getEnv("OFF_BASE_URL", "https://world.openfoodfacts.org"), "/"),
		LookupTimeout:        time.Duration(getEnvInt("LOOKUP_TIMEOUT_SECONDS", 10)) * time.Second,
		LookupRetries:        getEnvInt("LOOKUP_MAX_RETRIES", 2),
		SearchPageSize:       getEnvInt("SEARCH_PAGE_SIZE", 10),
		ParquetURL:           getEnv("PARQUET_URL", "https://huggingface.co/datasets/openfoodfacts/product-database/resolve/main/food.parquet"),
		DataDir:              dataDir,
		ParquetPath:          getEnv("PARQUET_PATH", filepath.Join(dataDir, "product-database.parquet")),
		MetadataPath:         getEnv("METADATA_PATH", filepath.Join(dataDir, "metadata.json")),
		LockFile:             getEnv("LOCK_FILE", filepath.Join(dataDir, "refresh.lock")),
		RefreshIntervalHours: getEnvInt("REFRESH_INTERVAL_HOURS", 24),
		DisableRemoteCheck:   getEnvBool("DISABLE_REMOTE_CHECK", false),
		IgnoreLock:           getEnvBool("IGNORE_LOCK", false),
	}
}

// RefreshInterval returns the dataset refresh interval as a duration
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalHours) * time.Hour
}

// IsDevelopment reports whether detailed errors may be returned to clients
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
