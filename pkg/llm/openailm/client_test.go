package openailm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ddx/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lastBody struct {
	mu   sync.Mutex
	data []byte
}

func (b *lastBody) get() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// responsesServer streams the given events from /v1/responses.
func responsesServer(t *testing.T, events ...string) (*httptest.Server, *lastBody) {
	t.Helper()
	body := &lastBody{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		body.mu.Lock()
		body.data = data
		body.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			_, _ = io.WriteString(w, "data: "+e+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, body
}

func newTestClient(t *testing.T, url string, options map[string]any) *Client {
	t.Helper()
	c, err := NewClient("groq", "test-key", "m", url+"/v1", options)
	require.NoError(t, err)
	return c
}

const completed = `{"type":"response.completed","sequence_number":9,"response":{"id":"resp_1","object":"response","status":"completed","model":"m","output":[],"usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7}}}`

func textDelta(s string) string {
	return `{"type":"response.output_text.delta","sequence_number":1,"item_id":"msg_1","output_index":0,"content_index":0,"delta":` + s + `}`
}

func drain(t *testing.T, ch <-chan llm.StreamChunk) (text, thinking string, final llm.StreamChunk) {
	t.Helper()
	var tb, th strings.Builder
	for chunk := range ch {
		for _, b := range chunk.ContentBlocks {
			switch b.Type {
			case llm.BlockTypeText:
				tb.WriteString(b.Text)
			case llm.BlockTypeThinking:
				th.WriteString(b.Text)
			}
		}
		if chunk.IsFinal {
			final = chunk
		}
	}
	return tb.String(), th.String(), final
}

func TestClient_StreamChat(t *testing.T) {
	srv, _ := responsesServer(t,
		`{"type":"response.reasoning_summary_text.delta","sequence_number":0,"item_id":"rs_1","output_index":0,"summary_index":0,"delta":"fever and rash"}`,
		textDelta(`"{\"dengue\":"`),
		textDelta(`" 0.8}"`),
		completed,
	)
	client := newTestClient(t, srv.URL, nil)

	ch, err := client.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("score")})
	require.NoError(t, err)

	text, thinking, final := drain(t, ch)
	assert.Equal(t, `{"dengue": 0.8}`, text)
	assert.Equal(t, "fever and rash", thinking)
	require.NoError(t, final.Err)
	assert.Equal(t, llm.StopReasonStop, final.FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 7, final.Usage.TotalTokens)
}

func TestClient_IncompleteMapsToLength(t *testing.T) {
	srv, _ := responsesServer(t,
		textDelta(`"{\"den"`),
		`{"type":"response.incomplete","sequence_number":2,"response":{"id":"resp_1","object":"response","status":"incomplete","incomplete_details":{"reason":"max_output_tokens"}}}`,
	)
	client := newTestClient(t, srv.URL, nil)

	ch, err := client.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("score")})
	require.NoError(t, err)
	_, _, final := drain(t, ch)
	assert.Equal(t, llm.StopReasonLength, final.FinishReason)
}

func TestClient_FailedEvents(t *testing.T) {
	tests := []struct {
		name  string
		event string
		want  string
	}{
		{
			name:  "response failed",
			event: `{"type":"response.failed","sequence_number":2,"response":{"id":"resp_1","object":"response","status":"failed"}}`,
			want:  "groq: response failed",
		},
		{
			name:  "error event",
			event: `{"type":"error","sequence_number":2,"code":"rate_limit_exceeded","message":"slow down","param":null}`,
			want:  "groq: slow down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := responsesServer(t, textDelta(`"{\"den"`), tt.event, completed)
			client := newTestClient(t, srv.URL, nil)

			got, err := llm.Complete(context.Background(), client, []llm.Message{llm.NewUserMessage("score")})
			require.Error(t, err)
			assert.EqualError(t, err, tt.want)
			assert.Equal(t, `{"den`, got)
		})
	}
}

func TestClient_SendsImagesAndOptions(t *testing.T) {
	srv, body := responsesServer(t, textDelta(`"{}"`), completed)
	client := newTestClient(t, srv.URL, map[string]any{"temperature": 0.2, "max_tokens": 256.0})

	user := llm.NewUserMessage("classify")
	user.Content = append(user.Content, llm.NewImageBlock([]byte{0x89, 'P', 'N', 'G'}, "image/png"))
	_, err := llm.Complete(context.Background(), client, []llm.Message{llm.NewSystemMessage("you are a dermatologist"), user})
	require.NoError(t, err)

	var req struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_completion_tokens"`
		Input       []struct {
			Role    string              `json:"role"`
			Content jsoniter.RawMessage `json:"content"`
		} `json:"input"`
	}
	require.NoError(t, json.Unmarshal(body.get(), &req))
	assert.Equal(t, "m", req.Model)
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	assert.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.Input, 2)

	assert.Equal(t, "system", req.Input[0].Role)
	assert.JSONEq(t, `"you are a dermatologist"`, string(req.Input[0].Content))

	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL string `json:"image_url"`
	}
	require.NoError(t, json.Unmarshal(req.Input[1].Content, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "input_text", parts[0].Type)
	assert.Equal(t, "classify", parts[0].Text)
	assert.Equal(t, "input_image", parts[1].Type)
	assert.Equal(t, "data:image/png;base64,iVBORw==", parts[1].ImageURL)
}

func TestClient_IsTransientError(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsTransientError(nil))
	assert.True(t, c.IsTransientError(errors.New("POST /v1/responses: 503 Service Unavailable")))
	assert.True(t, c.IsTransientError(errors.New("dial tcp: connection refused")))
	assert.False(t, c.IsTransientError(errors.New("401 Unauthorized")))
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, llm.StopReasonStop, normalizeStopReason("STOP"))
	assert.Equal(t, llm.StopReasonLength, normalizeStopReason("length"))
	assert.Equal(t, "content_filter", normalizeStopReason("content_filter"))
}
