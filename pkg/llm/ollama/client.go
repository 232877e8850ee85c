package ollama

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"ddx/pkg/llm"

	"github.com/ollama/ollama/api"
)

// OllamaClient Ollama API client
type OllamaClient struct {
	client       *api.Client
	model        string
	options      map[string]any
	buffer       int
	debugEnabled bool
}

// SetDebug toggles raw response dumps.
func (o *OllamaClient) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

// NewOllamaClient creates an Ollama client. An empty baseURL falls back to
// OLLAMA_HOST from the environment.
func NewOllamaClient(model string, baseURL string, options map[string]any) (*OllamaClient, error) {
	var client *api.Client
	var err error

	// Custom Transport to ensure no timeouts are imposed by the client
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0, // Explicitly no timeout
	}

	customClient := &http.Client{
		Transport: &JSONFixingRoundTripper{Proxied: transport},
		Timeout:   0, // Explicitly no timeout
	}

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		client = api.NewClient(u, customClient)
	} else {
		// Even for environment-based, we prefer our custom client if possible
		client, err = api.ClientFromEnvironment()
	}

	if err != nil {
		return nil, err
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &OllamaClient{
		client:  client,
		model:   model,
		options: options,
		buffer:  100,
	}, nil
}

func (o *OllamaClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	apiMessages := o.convertMessages(messages)

	chunkCh := make(chan llm.StreamChunk, o.buffer)
	startResultCh := make(chan error, 1) // 只送一次：首個 chunk 或啟動錯誤

	go func() {
		defer close(chunkCh)

		streamVal := true
		req := &api.ChatRequest{
			Model:    o.model,
			Messages: apiMessages,
			Options:  o.options,
			Stream:   &streamVal,
		}

		started := false
		var thoughtsCount int

		debugger := llm.NewStreamDebugger(ctx, "ollama", o.debugEnabled)
		defer debugger.Close()
		chunkIdx := 0

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			chunkIdx++
			debugger.Dump(resp)
			// First callback indicates success
			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.Message.Thinking != "" {
				thoughtsCount++
				chunkCh <- llm.NewThinkingChunk(resp.Message.Thinking)
			}
			if resp.Message.Content != "" {
				chunkCh <- llm.NewTextChunk(resp.Message.Content)
			}

			if resp.Done {
				usage := &llm.LLMUsage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					ThoughtsTokens:   thoughtsCount,
					StopReason:       resp.DoneReason,
				}
				if resp.DoneReason == llm.StopReasonLength {
					slog.WarnContext(ctx, "Response truncated due to length", "provider", "ollama")
				}
				chunkCh <- llm.NewFinalChunk(resp.DoneReason, usage)
				llm.LogUsage(ctx, o.model, usage)
			}
			return nil
		})

		if err != nil {
			slog.ErrorContext(ctx, "Stream error", "provider", "ollama", "model", o.model, "chunks", chunkIdx, "error", err)
			if !started {
				startResultCh <- err
			} else {
				chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
			}
		} else if !started {
			startResultCh <- nil
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

// convertMessages converts messages to Ollama API format
func (o *OllamaClient) convertMessages(messages []llm.Message) []api.Message {
	ollamaMsgs := make([]api.Message, 0, len(messages))

	for _, m := range messages {
		var text strings.Builder
		var images []api.ImageData

		for _, block := range m.Content {
			switch block.Type {
			case llm.BlockTypeText:
				text.WriteString(block.Text)
			case llm.BlockTypeImage:
				if block.Source != nil && len(block.Source.Data) > 0 {
					images = append(images, block.Source.Data)
				}
			}
		}

		msg := api.Message{
			Role:    m.Role,
			Content: text.String(),
		}
		if len(images) > 0 {
			msg.Images = images
		}
		ollamaMsgs = append(ollamaMsgs, msg)
	}

	return ollamaMsgs
}

// IsTransientError implements the llm.LLMClient interface
func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()

	// 1. Connection related errors (Connection refused, reset)
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}

	// 2. High load
	if strings.Contains(strings.ToLower(errMsg), "overloaded") {
		return true
	}

	return false
}

//----------------------------------------------------------------
// JSONFixingRoundTripper - Interceptor that fixes illegal JSON escapes
//----------------------------------------------------------------

// JSONFixingRoundTripper intercepts response and fixes illegal escapes (e.g., \$)
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	// Only filter text-type responses (mainly stream JSON)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		// Preprocess illegal escapes in the buffer
		// e.g., convert \$ to $ to avoid JSON parsing failures
		content := string(p[:n])
		fixed := illegalEscapeRegex.ReplaceAllString(content, "$1")
		if len(fixed) < len(content) {
			// If length decreases, adjust reported n and fill remaining space
			// Since we only replace single characters (removing backslash), this is safe at the byte array level
			copy(p, []byte(fixed))
			n = len(fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
