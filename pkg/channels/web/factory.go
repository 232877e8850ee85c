package web

import (
	"fmt"

	"ddx/pkg/api"
	"ddx/pkg/channels"
	"ddx/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// WebFactory 負責建立 Web trail channel
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error) {
	cfg := WebConfig{Port: 8080}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse web config: %w", err)
		}
	}
	return NewWebChannel(cfg), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
