package openailm

import (
	"fmt"
	"log/slog"
	"os"

	"ddx/pkg/config"
	"ddx/pkg/llm"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIFactory handles creation of OpenAI-compatible clients. The same
// factory serves "openai" and "groq"; they differ in default endpoint and
// the environment variable holding the key.
type OpenAIFactory struct {
	provider   string
	defaultURL string
	keyEnv     string
}

// Create implements ProviderFactory
func (f *OpenAIFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	keys := cfg.APIKeys
	if len(keys) == 0 {
		if k := os.Getenv(f.keyEnv); k != "" {
			keys = []string{k}
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: no api key (set api_keys or %s)", f.provider, f.keyEnv)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = f.defaultURL
	}

	var clients []llm.LLMClient
	for _, model := range cfg.Models {
		for _, key := range keys {
			client, err := NewClient(f.provider, key, model, baseURL, cfg.Options)
			if err != nil {
				slog.Error("Failed to create OpenAI-compatible client", "provider", f.provider, "model", model, "error", err)
				continue
			}
			client.SetDebug(sys.DebugChunks)
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{provider: "openai", keyEnv: "OPENAI_API_KEY"})
	llm.RegisterProvider("groq", &OpenAIFactory{provider: "groq", defaultURL: groqBaseURL, keyEnv: "GROQ_API_KEY"})
}
