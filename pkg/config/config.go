package config

import (
	"fmt"
	"os"
	"time"

	apperrors "ddx/pkg/errors"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the application configuration.
// This structure maps directly to the config.json file and holds the
// knowledge pack location, reasoning providers, trail sinks and the
// diagnostic loop parameters.
type Config struct {
	// Knowledge is the path of the knowledge pack (.yaml, .json or .xlsx).
	// Empty means the embedded default pack.
	Knowledge string `json:"knowledge"`
	// Channels contains a map of trail sink identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the ordered reasoning provider groups in raw JSON.
	// It is optional: without providers the engine uses structured evidence only.
	LLM jsoniter.RawMessage `json:"llm"`
	// Diagnostic holds the loop thresholds and budget.
	Diagnostic DiagnosticConfig `json:"diagnostic"`
}

// DiagnosticConfig controls the hypothesis, selection and stewardship agents.
type DiagnosticConfig struct {
	// ConfidenceThreshold finalizes the case as DIAGNOSED once the leading
	// posterior reaches it.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	// AcceptanceFloor is the lower bar used when no test remains to propose.
	// Zero means the same as ConfidenceThreshold.
	AcceptanceFloor float64 `json:"acceptance_floor"`
	// MaxIterations is the hard loop ceiling.
	MaxIterations int `json:"max_iterations"`
	// CostCap is the per-case budget in USD.
	CostCap float64 `json:"cost_cap"`
	// MinVOIPerCost is the stewardship veto threshold in bits per USD.
	MinVOIPerCost float64 `json:"min_voi_per_cost"`
	// RetentionThreshold drops candidates whose posterior falls below it.
	RetentionThreshold float64 `json:"retention_threshold"`
	// TopK caps the size of the differential.
	TopK int `json:"top_k"`
	// FallbackPrior substitutes missing epidemiology entries.
	// Zero means the median of the known priors for the region.
	FallbackPrior float64 `json:"fallback_prior"`
	// ImageFloor is the likelihood given to diseases the image classifier
	// says nothing about.
	ImageFloor float64 `json:"image_floor"`
}

// DefaultDiagnosticConfig returns the loop defaults.
func DefaultDiagnosticConfig() DiagnosticConfig {
	return DiagnosticConfig{
		ConfidenceThreshold: 0.85,
		MaxIterations:       10,
		CostCap:             5000,
		MinVOIPerCost:       0.002,
		RetentionThreshold:  1e-4,
		TopK:                10,
		ImageFloor:          0.05,
	}
}

// Floor returns the effective acceptance floor.
func (d DiagnosticConfig) Floor() float64 {
	if d.AcceptanceFloor <= 0 {
		return d.ConfidenceThreshold
	}
	return d.AcceptanceFloor
}

// Validate checks the loop parameters for values the engine cannot run with.
func (d DiagnosticConfig) Validate() error {
	switch {
	case d.ConfidenceThreshold <= 0 || d.ConfidenceThreshold > 1:
		return apperrors.ConfigInvalid("confidence_threshold must be in (0, 1], got %v", d.ConfidenceThreshold)
	case d.AcceptanceFloor < 0 || d.AcceptanceFloor > d.ConfidenceThreshold:
		return apperrors.ConfigInvalid("acceptance_floor must be in [0, confidence_threshold], got %v", d.AcceptanceFloor)
	case d.MaxIterations <= 0:
		return apperrors.ConfigInvalid("max_iterations must be positive, got %d", d.MaxIterations)
	case d.CostCap < 0:
		return apperrors.ConfigInvalid("cost_cap must not be negative, got %v", d.CostCap)
	case d.MinVOIPerCost < 0:
		return apperrors.ConfigInvalid("min_voi_per_cost must not be negative, got %v", d.MinVOIPerCost)
	case d.RetentionThreshold < 0 || d.RetentionThreshold >= 1:
		return apperrors.ConfigInvalid("retention_threshold must be in [0, 1), got %v", d.RetentionThreshold)
	case d.TopK <= 0:
		return apperrors.ConfigInvalid("top_k must be positive, got %d", d.TopK)
	case d.FallbackPrior < 0 || d.FallbackPrior > 1:
		return apperrors.ConfigInvalid("fallback_prior must be in [0, 1], got %v", d.FallbackPrior)
	}
	return nil
}

// Validate ensures the configuration structure is usable.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	return c.Diagnostic.Validate()
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the engine.
type SystemConfig struct {
	// MaxRetries is the number of attempts per reasoning provider on
	// transient errors before moving to the next provider.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base backoff (in milliseconds) between retries.
	RetryDelayMs int `json:"retry_delay_ms"`
	// StepTimeoutMs bounds every external call inside a loop step
	// (extraction, classification, oracle scoring, test results).
	StepTimeoutMs int `json:"step_timeout_ms"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer defines the size of the buffered channels
	// used for stream chunks and trail fan-out.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer summaries are split.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// Workers bounds how many cases run concurrently.
	Workers int `json:"workers"`
	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		StepTimeoutMs:         30000,
		OllamaDefaultURL:      "http://localhost:11434",
		InternalChannelBuffer: 100,
		TelegramMessageLimit:  4000,
		Workers:               4,
		LogLevel:              "info",
	}
}

// StepTimeout returns the per-step timeout as a duration.
func (s *SystemConfig) StepTimeout() time.Duration {
	return time.Duration(s.StepTimeoutMs) * time.Millisecond
}

// RetryDelay returns the retry backoff base as a duration.
func (s *SystemConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// Load reads and parses the application and system configuration files.
// A missing application file yields the defaults; a present but broken one is
// an error. The system file always falls back to defaults.
// Environment overrides are applied last.
func Load(appPath, systemPath string) (*Config, *SystemConfig, error) {
	cfg := &Config{Diagnostic: DefaultDiagnosticConfig()}

	// 1. Load Application Config
	appFile, err := os.ReadFile(appPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, cfg); err != nil {
			return nil, nil, apperrors.WithCode(apperrors.CodeConfigInvalid, fmt.Errorf("failed to parse config file %s: %w", appPath, err))
		}
	}

	// 2. Load System Config independently
	sysCfg := LoadSystemConfig(systemPath)

	// 3. Environment (.env and process) overrides
	ApplyEnv(cfg, sysCfg)

	// 3a. Validate structure integrity
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig() // Parse failed, use defaults
	}

	return cfg
}
