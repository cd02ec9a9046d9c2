package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App holds process-level configuration for the daemon, read from the
// environment (optionally via a .env file).
type App struct {
	DataDir    string // base directory for the event log and state snapshots
	Port       int
	LogLevel   string
	LogPretty  bool
	CronSpec   string // rebalance schedule for daemon mode
	ConfigPath string // engine config YAML, empty = defaults
	MarketPath string // market data YAML (holdings, buckets, regime, prices)
}

// LoadApp reads process configuration from environment variables.
func LoadApp() App {
	// Load .env file if it exists
	_ = godotenv.Load()

	return App{
		DataDir:    getEnv("HELMSMAN_DATA_DIR", "./data"),
		Port:       getEnvAsInt("HELMSMAN_PORT", 8001),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPretty:  getEnvAsBool("LOG_PRETTY", false),
		CronSpec:   getEnv("HELMSMAN_REBALANCE_CRON", "0 18 * * MON-FRI"),
		ConfigPath: getEnv("HELMSMAN_CONFIG", ""),
		MarketPath: getEnv("HELMSMAN_MARKET", "./market.yaml"),
	}
}

// LoadFile reads an engine configuration from a YAML file, layered over the
// defaults. Unknown keys are rejected so typos surface at startup.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Export serializes the configuration to YAML. Importing the result with
// Import yields a semantically equal configuration.
func (c Config) Export() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Import parses a configuration previously produced by Export.
func Import(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
