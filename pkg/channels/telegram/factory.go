package telegram

import (
	"fmt"
	"os"

	"ddx/pkg/api"
	"ddx/pkg/channels"
	"ddx/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory 負責建立 Telegram Channels
type TelegramFactory struct{}

// Create 實作 ChannelFactory
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error) {
	var tgCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	if tgCfg.Token == "" {
		tgCfg.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	return NewTelegramChannel(tgCfg, system.TelegramMessageLimit, system.InternalChannelBuffer)
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
