// Package autoload registers every built-in reasoning provider.
package autoload

import (
	_ "ddx/pkg/llm/gemini"
	_ "ddx/pkg/llm/ollama"
	_ "ddx/pkg/llm/openailm"
)
