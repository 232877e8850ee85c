package openailm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"ddx/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client wraps the official OpenAI Go SDK (Responses API). It also serves
// OpenAI-compatible endpoints such as Groq through base_url.
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	options      map[string]any
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, model string, baseURL string, options map[string]any) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:   &client,
		provider: provider,
		model:    model,
		options:  options,
	}, nil
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, 100)

	// Convert messages
	convertedMsgs := c.convertMessages(messages)

	// 調用 API
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertedMsgs,
		},
	}

	opts := []option.RequestOption{}

	// Handle unified "thinking_effort" option
	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "medium":
			effort = shared.ReasoningEffortMedium
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}

		params.Reasoning = shared.ReasoningParam{
			Effort: effort,
		}
	}

	// Handle unified "temperature" option (optional)
	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}

	// Handle unified "top_p" option (optional)
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}

	// Handle unified "max_tokens" option (mapped to max_completion_tokens for o1/newer models)
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_completion_tokens", int(maxTok)))
	}

	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params, opts...)
		defer stream.Close()

		var lastFinishReason string
		var lastUsage *llm.LLMUsage

		// StreamDebugger handles file creation and lifecycle
		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		var thinkingLogBuffer strings.Builder

		for stream.Next() {
			event := stream.Current()

			// Use reflection to get unexported 'raw' string from event.JSON for debug logging and fallback
			var raw string
			rv := reflect.ValueOf(event.JSON)
			if rv.Kind() == reflect.Struct {
				rt := rv.Type()
				for i := 0; i < rt.NumField(); i++ {
					if rt.Field(i).Name == "raw" {
						raw = rv.Field(i).String()
						break
					}
				}
			}

			if raw != "" {
				debugger.Dump(jsoniter.RawMessage(raw))
			}

			// Fallback thinking capture from raw JSON (DeepSeek/GPT-5 legacy style)
			var rawChoice struct {
				Reasoning        string `json:"reasoning"`
				Thinking         string `json:"thinking"`
				ReasoningContent string `json:"reasoning_content"`
			}
			if raw != "" && json.Unmarshal([]byte(raw), &rawChoice) == nil {
				thought := rawChoice.Reasoning
				if thought == "" {
					thought = rawChoice.Thinking
				}
				if thought == "" {
					thought = rawChoice.ReasoningContent
				}
				if thought != "" {
					thinkingLogBuffer.WriteString(thought)
					chunkCh <- llm.NewThinkingChunk(thought)
				}
			}

			// Handle different event types using SDK native types
			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				chunkCh <- llm.NewTextChunk(variant.Delta)

			case responses.ResponseReasoningTextDeltaEvent:
				thinkingLogBuffer.WriteString(variant.Delta)
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				thinkingLogBuffer.WriteString(variant.Delta)
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseCompletedEvent:
				lastFinishReason = "stop"
				if variant.Response.Usage.TotalTokens > 0 {
					lastUsage = &llm.LLMUsage{
						PromptTokens:     int(variant.Response.Usage.InputTokens),
						CompletionTokens: int(variant.Response.Usage.OutputTokens),
						TotalTokens:      int(variant.Response.Usage.TotalTokens),
						StopReason:       llm.StopReasonStop,
					}
				}

			case responses.ResponseFailedEvent:
				err := fmt.Errorf("%s: response failed", c.provider)
				chunkCh <- llm.NewErrorChunk("API Response Failed", err, true)
				return

			case responses.ResponseIncompleteEvent:
				lastFinishReason = "length"

			case responses.ResponseErrorEvent:
				err := fmt.Errorf("%s: %s", c.provider, variant.Message)
				chunkCh <- llm.NewErrorChunk(fmt.Sprintf("API Error: %s", variant.Message), err, true)
				return
			}
		}
		if strings.TrimSpace(thinkingLogBuffer.String()) != "" {
			slog.DebugContext(ctx, "Captured full thinking process", "provider", c.provider, "content", thinkingLogBuffer.String())
		}

		if err := stream.Err(); err != nil {
			chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream error: %v", err), err, true)
		} else {
			// Send final chunk with accumulated stats
			reason := "stop"
			if lastFinishReason != "" {
				reason = normalizeStopReason(lastFinishReason)
			}
			chunkCh <- llm.NewFinalChunk(reason, lastUsage)
			llm.LogUsage(ctx, c.model, lastUsage)
		}
	}()

	return chunkCh, nil
}

func (c *Client) convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case "system":
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Text(),
				responses.EasyInputMessageRoleSystem,
			))
		case "assistant":
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Text(),
				responses.EasyInputMessageRoleAssistant,
			))
		case "user":
			if !hasImages(m) {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.Text(),
					responses.EasyInputMessageRoleUser,
				))
				continue
			}
			var contentParts responses.ResponseInputMessageContentListParam
			for _, block := range m.Content {
				switch block.Type {
				case llm.BlockTypeText:
					contentParts = append(contentParts, responses.ResponseInputContentUnionParam{
						OfInputText: &responses.ResponseInputTextParam{
							Text: block.Text,
						},
					})
				case llm.BlockTypeImage:
					if block.Source == nil {
						continue
					}
					imgURL := block.Source.URL
					if block.Source.Type == "base64" {
						imgURL = fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, base64.StdEncoding.EncodeToString(block.Source.Data))
					}
					contentParts = append(contentParts, responses.ResponseInputContentUnionParam{
						OfInputImage: &responses.ResponseInputImageParam{
							Detail:   responses.ResponseInputImageDetailAuto,
							ImageURL: param.NewOpt(imgURL),
						},
					})
				}
			}
			items = append(items, responses.ResponseInputItemParamOfMessage(
				contentParts,
				responses.EasyInputMessageRoleUser,
			))
		}
	}

	return items
}

func hasImages(m llm.Message) bool {
	for _, block := range m.Content {
		if block.Type == llm.BlockTypeImage {
			return true
		}
	}
	return false
}

// normalizeStopReason converts OpenAI-specific finish_reason to
// a standardized lowercase format.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "stop":
		return llm.StopReasonStop
	case "length":
		return llm.StopReasonLength
	default:
		return reason
	}
}
