package llm

import (
	"fmt"
	"log/slog"

	"ddx/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// NewFromConfig builds the reasoning client from the "llm" section: an ordered
// list of provider groups. Groups that fail to build are skipped. A single
// client is returned as-is, several are wrapped in a FallbackClient in
// declaration order.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (LLMClient, error) {
	if len(rawLLM) == 0 {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	var allAtomicClients []LLMClient
	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("⚠️ Unknown provider type", "type", group.Type)
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("⚠️ Failed to create clients", "type", group.Type, "error", err)
			continue
		}

		allAtomicClients = append(allAtomicClients, clients...)
	}

	if len(allAtomicClients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	slog.Info("✅ LLM clients initialized", "count", len(allAtomicClients))

	if len(allAtomicClients) == 1 {
		return allAtomicClients[0], nil
	}

	return &FallbackClient{
		Clients:    allAtomicClients,
		MaxRetries: system.MaxRetries,
		RetryDelay: system.RetryDelay(),
	}, nil
}
