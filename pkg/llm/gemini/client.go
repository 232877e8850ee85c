package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ddx/pkg/llm"

	"google.golang.org/genai"
)

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	config       genai.GenerateContentConfig
	debugEnabled bool
}

// SetDebug toggles raw response dumps.
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client with a single model and API key.
// baseURL overrides the public endpoint when set.
// Supported options: "temperature" (number) and "response_mime_type" (string).
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string, useThought bool, options map[string]any) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	g := &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
	}
	if t, ok := options["temperature"].(float64); ok {
		temp := float32(t)
		g.config.Temperature = &temp
	}
	if mt, ok := options["response_mime_type"].(string); ok {
		g.config.ResponseMIMEType = mt
	}
	if useThought {
		g.config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return g, nil
}

// StreamChat implements llm.LLMClient.StreamChat
func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	apiMessages, systemInstruction := g.convertMessages(messages)

	chunkCh := make(chan llm.StreamChunk, 100)
	startResultCh := make(chan error, 1)

	slog.DebugContext(ctx, "🌊 Streaming", "provider", "gemini", "model", g.model)

	cfg := g.config
	cfg.SystemInstruction = systemInstruction

	go func() {
		defer close(chunkCh)

		iter := g.client.Models.GenerateContentStream(ctx, g.model, apiMessages, &cfg)

		started := false
		var lastUsage *llm.LLMUsage

		debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
		defer debugger.Close()

		for resp, err := range iter {
			if resp != nil {
				debugger.Dump(resp)
			}
			if err != nil {
				// SDK 可能同時回傳資料與錯誤，有資料時先處理
				if resp == nil {
					slog.ErrorContext(ctx, "Stream error", "provider", "gemini", "model", g.model, "error", err)
					if !started {
						startResultCh <- err
					} else {
						chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
					}
					return
				}
				slog.WarnContext(ctx, "Stream error with data", "provider", "gemini", "error", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.UsageMetadata != nil {
				u := resp.UsageMetadata
				lastUsage = &llm.LLMUsage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" && lastUsage != nil {
					lastUsage.StopReason = normalizeStopReason(candidate.FinishReason)
				}
				if candidate.Content == nil {
					continue
				}

				var blocks []llm.ContentBlock
				for _, part := range candidate.Content.Parts {
					if part.Text == "" {
						continue
					}
					if part.Thought {
						blocks = append(blocks, llm.ContentBlock{Type: llm.BlockTypeThinking, Text: part.Text})
					} else {
						blocks = append(blocks, llm.ContentBlock{Type: llm.BlockTypeText, Text: part.Text})
					}
				}
				if len(blocks) > 0 {
					chunkCh <- llm.StreamChunk{ContentBlocks: blocks}
				}
			}
		}

		if !started {
			startResultCh <- nil
		}
		if lastUsage != nil {
			chunkCh <- llm.NewFinalChunk(lastUsage.StopReason, lastUsage)
			llm.LogUsage(ctx, g.model, lastUsage)
		}
	}()

	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertMessages converts message list to GenAI format
func (g *GeminiClient) convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var genaiContents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			var parts []*genai.Part
			for _, block := range msg.Content {
				if block.Type == llm.BlockTypeText && block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			}
			if len(parts) > 0 {
				systemInstruction = &genai.Content{Parts: parts}
			}
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}

		var parts []*genai.Part
		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text == "" {
					continue // 略過空文本
				}
				parts = append(parts, &genai.Part{Text: block.Text})
			case llm.BlockTypeImage:
				if block.Source != nil && len(block.Source.Data) > 0 {
					parts = append(parts, &genai.Part{
						InlineData: &genai.Blob{
							MIMEType: block.Source.MediaType,
							Data:     block.Source.Data,
						},
					})
				}
			}
		}

		if len(parts) > 0 {
			genaiContents = append(genaiContents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return genaiContents, systemInstruction
}

func normalizeStopReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return llm.StopReasonStop
	case genai.FinishReasonMaxTokens:
		return llm.StopReasonLength
	default:
		return strings.ToLower(string(reason))
	}
}

// IsTransientError implements the llm.LLMClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(errMsg, "overloaded") {
		return true
	}
	// 429 Rate Limit
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		return true
	}
	// 500 Internal Error
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "internal error") {
		return true
	}
	return false
}
