package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, name string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	reg, err := NewRegistry([]Config{{Name: name, APIKey: "sk-test-key", BaseURL: srv.URL}}, testDefaults)
	require.NoError(t, err)
	c, err := reg.Client(name)
	require.NoError(t, err)
	return c
}

func TestClient_DoAnthropic(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	})

	call, err := c.Prepare(OpChat, "", chatRequest())
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), OpChat, call, map[string]string{"X-Trace": "trace-1", "x-api-key": "spoofed"})
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "claude-3-5-haiku-20241022", resp.Model, "falls back to the requested model")
	assert.Equal(t, "be brief\nbe kind", got["system"])
}

func TestClient_DoErrorStatus(t *testing.T) {
	c := newTestClient(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})

	call, err := c.Prepare(OpChat, "", chatRequest())
	require.NoError(t, err)
	_, err = c.Do(context.Background(), OpChat, call, nil)
	require.Error(t, err)

	var reqErr *ProviderRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusTooManyRequests, reqErr.StatusCode)
	assert.Contains(t, reqErr.Body, "slow down")
	assert.True(t, errors.Is(err, ErrProviderRequest))
	assert.Contains(t, err.Error(), "openai API error (status 429)")
}

func TestClient_DoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	reg, err := NewRegistry([]Config{{Name: "openai", APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}}, testDefaults)
	require.NoError(t, err)
	c, _ := reg.Client("openai")

	call, err := c.Prepare(OpChat, "", chatRequest())
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Do(context.Background(), OpChat, call, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderRequest))
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_StreamOpenAI(t *testing.T) {
	c := newTestClient(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"id\":\"c1\",\"model\":\"gpt\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	req := chatRequest()
	req.Stream = true
	call, err := c.Prepare(OpChat, "", req)
	require.NoError(t, err)
	stream, err := c.Stream(context.Background(), call, nil)
	require.NoError(t, err)

	now := time.Unix(10, 0)
	resp, err := Collect(stream, "openai", now)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "c1", resp.ID)
	assert.Equal(t, "gpt", resp.Model)
	assert.Equal(t, openai.FinishReasonStop, resp.Choices[0].FinishReason)
	assert.Equal(t, now, resp.Timestamp)
}

func TestAnthropicStreamReader(t *testing.T) {
	body := strings.Join([]string{
		"event: message_start",
		`data: {"type":"message_start","message":{"id":"msg_1","model":"claude"}}`,
		"",
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"max_tokens"}}`,
		`data: {"type":"message_stop"}`,
		"",
	}, "\n")

	stream := anthropicFamily{}.NewStream(io.NopCloser(strings.NewReader(body)), "fallback")
	resp, err := Collect(stream, "anthropic", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, "claude", resp.Model)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, openai.FinishReasonLength, resp.Choices[0].FinishReason)
}

func TestAnthropicStreamReader_Error(t *testing.T) {
	body := `data: {"type":"error","error":{"type":"overloaded_error"}}` + "\n"
	stream := anthropicFamily{}.NewStream(io.NopCloser(strings.NewReader(body)), "m")
	_, err := Collect(stream, "anthropic", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestGeminiStreamReader(t *testing.T) {
	body := strings.Join([]string{
		`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Bon"}]},"index":0}]}`,
		`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"jour"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}`,
		"",
	}, "\n")

	stream := geminiFamily{}.NewStream(io.NopCloser(strings.NewReader(body)), "gemini-2.0-flash")
	resp, err := Collect(stream, "gemini", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", resp.Content)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
	assert.Equal(t, openai.FinishReasonStop, resp.Choices[0].FinishReason)
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	c := newTestClient(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"x"}}]}`))
	})
	c = c.withConfig(Config{
		Name: c.cfg.Name, APIKey: c.cfg.APIKey, BaseURL: c.cfg.BaseURL,
		Timeout: c.cfg.Timeout, RequestsPerSecond: 0.001, Burst: 1,
	})

	call, err := c.Prepare(OpChat, "", chatRequest())
	require.NoError(t, err)
	_, err = c.Do(context.Background(), OpChat, call, nil)
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, OpChat, call, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderRequest))
}
