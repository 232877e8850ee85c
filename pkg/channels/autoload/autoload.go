// Package autoload registers every built-in trail sink.
package autoload

import (
	_ "ddx/pkg/channels/telegram"
	_ "ddx/pkg/channels/web"
)
