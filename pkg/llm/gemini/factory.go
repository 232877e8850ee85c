package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"ddx/pkg/config"
	"ddx/pkg/llm"
)

// GeminiFactory handles creation of Gemini Clients
type GeminiFactory struct{}

// Create implements ProviderFactory. Clients are the product of models and
// keys, models first.
func (f *GeminiFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	useThought := false
	if effort, ok := cfg.Options["thinking_effort"].(string); ok && effort != "" && effort != "off" {
		useThought = true
	}

	keys := cfg.APIKeys
	if len(keys) == 0 {
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			keys = []string{k}
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("gemini: no api key (set api_keys or GEMINI_API_KEY)")
	}

	for _, model := range cfg.Models {
		for _, key := range keys {
			client, err := NewGeminiClient(context.Background(), key, model, cfg.BaseURL, useThought, cfg.Options)
			if err != nil {
				slog.Error("Failed to create Gemini client", "model", model, "error", err)
				continue
			}
			client.SetDebug(sys.DebugChunks)
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &GeminiFactory{})
}
