package ollama

import (
	"log/slog"

	"ddx/pkg/config"
	"ddx/pkg/llm"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements ProviderFactory. A group without base_url uses the
// system-level default endpoint.
func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sys.OllamaDefaultURL
	}

	for _, model := range cfg.Models {
		client, err := NewOllamaClient(model, baseURL, cfg.Options)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		client.SetDebug(sys.DebugChunks)
		if sys.InternalChannelBuffer > 0 {
			client.buffer = sys.InternalChannelBuffer
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
