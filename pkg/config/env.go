package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env style files into the process environment. Missing
// files are not an error; variables already set in the process win.
func LoadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("Failed to load env file", "file", f, "error", err)
		}
	}
}

// ApplyEnv overrides configuration values from environment variables.
func ApplyEnv(cfg *Config, sys *SystemConfig) {
	d := &cfg.Diagnostic
	d.ConfidenceThreshold = getEnvFloatOrDefault("CONFIDENCE_THRESHOLD", d.ConfidenceThreshold)
	d.AcceptanceFloor = getEnvFloatOrDefault("ACCEPTANCE_FLOOR", d.AcceptanceFloor)
	d.MaxIterations = getEnvIntOrDefault("MAX_DIAGNOSTIC_ITERATIONS", d.MaxIterations)
	d.CostCap = getEnvFloatOrDefault("DEFAULT_BUDGET_USD", d.CostCap)
	d.MinVOIPerCost = getEnvFloatOrDefault("MIN_VOI_PER_COST", d.MinVOIPerCost)
	d.RetentionThreshold = getEnvFloatOrDefault("RETENTION_THRESHOLD", d.RetentionThreshold)
	d.FallbackPrior = getEnvFloatOrDefault("FALLBACK_PRIOR", d.FallbackPrior)

	cfg.Knowledge = getEnvOrDefault("KNOWLEDGE_PACK", cfg.Knowledge)

	sys.LogLevel = getEnvOrDefault("LOG_LEVEL", sys.LogLevel)
	sys.OllamaDefaultURL = getEnvOrDefault("OLLAMA_BASE_URL", sys.OllamaDefaultURL)
	sys.StepTimeoutMs = getEnvIntOrDefault("STEP_TIMEOUT_MS", sys.StepTimeoutMs)
	sys.Workers = getEnvIntOrDefault("DDX_WORKERS", sys.Workers)
	sys.DebugChunks = getEnvBoolOrDefault("DEBUG_CHUNKS", sys.DebugChunks)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
