package channels

import (
	"ddx/pkg/api"
	"ddx/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// ChannelFactory builds a trail sink from its raw "channels.<name>" config.
// New sinks register a factory and need no change to the case manager.
type ChannelFactory interface {
	// Create may return (nil, nil) when the sink is configured but disabled.
	Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error)
}

// channelRegistry maps sink names (e.g. "telegram") to their factories.
var channelRegistry = make(map[string]ChannelFactory)

// RegisterChannel adds a ChannelFactory to the registry, typically from init().
func RegisterChannel(name string, factory ChannelFactory) {
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	f, ok := channelRegistry[name]
	return f, ok
}
