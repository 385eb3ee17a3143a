// Package config loads pipeline settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every external setting the CLI and server need. Field names
// identify the id/text columns on incoming data; amount/date/group fields
// are optional and only used by categorization.
type Config struct {
	DBPath string

	IDField   string
	TextField string

	SimilarityThreshold float64
	MinTokenLength      int
	ExtraStopWords      []string

	AmountField string
	DateField   string
	GroupField  string

	ServerHost  string
	ServerPort  int
	LogRequests bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DBPath:              GetEnv("AFFINITY_DB", "affinity.db"),
		IDField:             GetEnv("AFFINITY_ID_FIELD", "id"),
		TextField:           GetEnv("AFFINITY_TEXT_FIELD", "text"),
		SimilarityThreshold: GetEnvFloat("AFFINITY_THRESHOLD", 0.5),
		MinTokenLength:      GetEnvInt("AFFINITY_MIN_TOKEN_LENGTH", 2),
		ExtraStopWords:      splitList(GetEnv("AFFINITY_STOP_WORDS", "")),
		AmountField:         GetEnv("AFFINITY_AMOUNT_FIELD", ""),
		DateField:           GetEnv("AFFINITY_DATE_FIELD", ""),
		GroupField:          GetEnv("AFFINITY_GROUP_FIELD", ""),
		ServerHost:          GetEnv("AFFINITY_HOST", "0.0.0.0"),
		ServerPort:          GetEnvInt("AFFINITY_PORT", 8080),
		LogRequests:         GetEnvBool("AFFINITY_REQUEST_LOG", true),
	}
}

// GetEnv gets an environment variable with a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvFloat gets a float environment variable with a default.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable with a default.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
