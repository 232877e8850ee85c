package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sethvargo/go-retry"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMUsage 定義通用的用量統計結構
type LLMUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage 以 debug 等級記錄用量統計
func LogUsage(ctx context.Context, model string, usage *LLMUsage) {
	if usage == nil {
		return
	}
	slog.DebugContext(ctx, "📊 LLM usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"cached", usage.CachedTokens,
		"stop", usage.StopReason,
	)
}

// LLMClient 通用 LLM 客戶端介面
type LLMClient interface {
	// StreamChat 流式對話，返回 StreamChunk channel
	// 返回值: StreamChunk channel（增量式內容 + 最終用量統計）
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// IsTransientError 判斷是否為暫時性錯誤 (如 503, Rate Limit)
	IsTransientError(err error) bool
}

// FallbackClient 依序嘗試多個 Client，每個 Client 在暫時性錯誤時以
// Fibonacci backoff 重試，最多 MaxRetries 次嘗試。
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) backoff() retry.Backoff {
	delay := f.RetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	retries := f.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), retry.NewFibonacci(delay))
}

// each 依序對每個 provider 執行 op，暫時性錯誤在同一個 provider 上重試，
// 其他錯誤換下一個 provider。
func (f *FallbackClient) each(ctx context.Context, op func(ctx context.Context, client LLMClient) error) error {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "⚠️ Previous provider failed, trying fallback", "provider", i+1)
		}

		attempt := 0
		err := retry.Do(ctx, f.backoff(), func(ctx context.Context) error {
			attempt++
			err := op(ctx, client)
			if err == nil {
				return nil
			}
			if client.IsTransientError(err) {
				slog.WarnContext(ctx, "🔄 Transient provider error", "provider", i+1, "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		})
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		slog.ErrorContext(ctx, "❌ Provider failed", "provider", i+1, "attempts", attempt, "error", err)
	}
	if lastErr == nil {
		return fmt.Errorf("no LLM providers configured")
	}
	return fmt.Errorf("all fallback providers failed: %w", lastErr)
}

// StreamChat 只在串流建立失敗時換 provider；串流中途的錯誤交給呼叫端。
// 需要完整回覆時用 Complete，它連中途失敗也會換下一個 provider。
func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	var ch <-chan StreamChunk
	err := f.each(ctx, func(ctx context.Context, client LLMClient) error {
		c, err := client.StreamChat(ctx, messages)
		if err != nil {
			return err
		}
		ch = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Complete 收集完整回覆。串流中途的 chunk.Err 視為該 provider 失敗，
// 部分內容會被丟棄並改試下一個 provider。
func (f *FallbackClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var reply string
	err := f.each(ctx, func(ctx context.Context, client LLMClient) error {
		text, err := collect(ctx, client, messages)
		if err != nil {
			return err
		}
		reply = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// IsTransientError 實作 LLMClient 介面
// FallbackClient 的錯誤意味著所有 Child 都失敗了，視為非暫時性
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

// Complete 送出一次對話並收集完整的文字回覆（忽略 thinking 區塊）。
// FallbackClient 會在串流中途失敗時改用下一個 provider。
func Complete(ctx context.Context, client LLMClient, messages []Message) (string, error) {
	if f, ok := client.(*FallbackClient); ok {
		return f.Complete(ctx, messages)
	}
	return collect(ctx, client, messages)
}

func collect(ctx context.Context, client LLMClient, messages []Message) (string, error) {
	// 提前返回時釋放 provider 的串流 goroutine
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := client.StreamChat(ctx, messages)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return sb.String(), chunk.Err
			}
			for _, block := range chunk.ContentBlocks {
				if block.Type == BlockTypeText {
					sb.WriteString(block.Text)
				}
			}
		}
	}
}
