package providers

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float32Ptr(v float32) *float32 { return &v }

func chatRequest() Request {
	return Request{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "be brief"},
			{Role: openai.ChatMessageRoleSystem, Content: "be kind"},
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
			{Role: openai.ChatMessageRoleAssistant, Content: "hello"},
			{Role: openai.ChatMessageRoleUser, Content: "how are you"},
		},
		Temperature: float32Ptr(0.5),
		MaxTokens:   IntPtr(100),
	}
}

func TestOpenAI_Transform(t *testing.T) {
	cfg := Config{Name: "openai", DefaultModel: "gpt-4o-mini"}
	req := chatRequest()
	req.Extra = map[string]any{"user": "u-1", "model": "ignored"}

	call, err := openAIFamily{}.Transform(OpChat, "", req, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/chat/completions", call.Path)
	assert.Equal(t, "gpt-4o-mini", call.Payload["model"], "extra never overrides")
	assert.Equal(t, "u-1", call.Payload["user"])
	assert.Equal(t, req.Messages, call.Payload["messages"])
	assert.Equal(t, 100, call.Payload["max_tokens"])
	assert.NotContains(t, call.Payload, "stream")

	call, err = openAIFamily{}.Transform(OpEmbeddings, "", Request{Input: []string{"a", "b"}}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/embeddings", call.Path)
	assert.Equal(t, []string{"a", "b"}, call.Payload["input"])

	call, err = openAIFamily{}.Transform(OpGeneric, "/moderations", Request{Input: "text"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/moderations", call.Path)
	assert.Equal(t, "text", call.Payload["input"])
}

func TestOpenAI_Normalize(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"chatcmpl-1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hey"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)

	resp := openAIFamily{}.Normalize(OpChat, body, "openai", now)
	assert.Equal(t, "hey", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, now, resp.Timestamp)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, openai.ChatMessageRoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, openai.FinishReasonStop, resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Nil(t, resp.Raw)

	completion := []byte(`{"choices":[{"index":0,"text":"done","finish_reason":"length"}]}`)
	resp = openAIFamily{}.Normalize(OpCompletion, completion, "groq", now)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, openai.FinishReasonLength, resp.Choices[0].FinishReason)
}

func TestOpenAI_NormalizeEmbeddings(t *testing.T) {
	body := []byte(`{"model":"text-embedding-3-small","data":[{"index":0,"embedding":[0.5,0.25]},{"index":1,"embedding":[1.5]}]}`)
	resp := openAIFamily{}.Normalize(OpEmbeddings, body, "openai", time.Now())
	assert.Equal(t, [][]float32{{0.5, 0.25}, {1.5}}, resp.Embeddings)
	assert.JSONEq(t, string(body), string(resp.Raw))
}

func TestNormalize_UnknownShapeIsPassedThrough(t *testing.T) {
	now := time.Now()
	families := []Family{openAIFamily{}, anthropicFamily{}, geminiFamily{}}
	for _, f := range families {
		t.Run(f.Name(), func(t *testing.T) {
			resp := f.Normalize(OpChat, []byte(`{"weird":true}`), "p", now)
			assert.Equal(t, "p", resp.Provider)
			assert.Equal(t, now, resp.Timestamp)
			assert.Empty(t, resp.Content)
			assert.JSONEq(t, `{"weird":true}`, string(resp.Raw))

			resp = f.Normalize(OpChat, []byte("not json"), "p", now)
			assert.JSONEq(t, `"not json"`, string(resp.Raw))
		})
	}
}

func TestAnthropic_TransformExtractsLeadingSystem(t *testing.T) {
	cfg := Config{Name: "anthropic", DefaultModel: "claude-3-5-haiku-20241022"}
	call, err := anthropicFamily{}.Transform(OpChat, "", chatRequest(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "/messages", call.Path)
	assert.Equal(t, "be brief\nbe kind", call.Payload["system"])
	msgs := call.Payload["messages"].([]anthropicMessage)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, 100, call.Payload["max_tokens"])
}

func TestAnthropic_TransformDefaults(t *testing.T) {
	cfg := Config{Name: "anthropic", DefaultModel: "claude"}
	call, err := anthropicFamily{}.Transform(OpCompletion, "", Request{Prompt: "write"}, cfg)
	require.NoError(t, err)

	assert.Equal(t, anthropicDefaultMaxTokens, call.Payload["max_tokens"])
	assert.NotContains(t, call.Payload, "system")
	msgs := call.Payload["messages"].([]anthropicMessage)
	assert.Equal(t, []anthropicMessage{{Role: "user", Content: "write"}}, msgs)
}

func TestAnthropic_EmbeddingsUnsupported(t *testing.T) {
	_, err := anthropicFamily{}.Transform(OpEmbeddings, "", Request{Input: "x"}, Config{Name: "anthropic"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedOperation))
}

func TestAnthropic_Normalize(t *testing.T) {
	body := []byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[{"type":"text","text":"Hel"},{"type":"text","text":"lo"}],"stop_reason":"max_tokens","usage":{"input_tokens":5,"output_tokens":2}}`)
	resp := anthropicFamily{}.Normalize(OpChat, body, "anthropic", time.Now())

	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, openai.FinishReasonLength, resp.Choices[0].FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestGemini_Transform(t *testing.T) {
	cfg := Config{Name: "gemini", DefaultModel: "gemini-2.0-flash"}
	call, err := geminiFamily{}.Transform(OpChat, "", chatRequest(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", call.Path)
	contents := call.Payload["contents"].([]geminiContent)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "hello", contents[1].Parts[0].Text)

	sys := call.Payload["systemInstruction"].(geminiContent)
	assert.Equal(t, "be brief\nbe kind", sys.Parts[0].Text)

	gen := call.Payload["generationConfig"].(geminiGenerationConfig)
	assert.Equal(t, 100, *gen.MaxOutputTokens)

	streamReq := chatRequest()
	streamReq.Stream = true
	streamReq.Model = "models/gemini-pro"
	call, err = geminiFamily{}.Transform(OpChat, "", streamReq, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/models/gemini-pro:streamGenerateContent?alt=sse", call.Path)
	assert.True(t, call.Stream)
}

func TestGemini_Embeddings(t *testing.T) {
	cfg := Config{Name: "gemini", DefaultModel: "text-embedding-004"}
	call, err := geminiFamily{}.Transform(OpEmbeddings, "", Request{Prompt: "embed me"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/models/text-embedding-004:embedContent", call.Path)
	assert.Equal(t, "models/text-embedding-004", call.Payload["model"])

	resp := geminiFamily{}.Normalize(OpEmbeddings, []byte(`{"embedding":{"values":[1,2,3]}}`), "gemini", time.Now())
	assert.Equal(t, [][]float32{{1, 2, 3}}, resp.Embeddings)
}

func TestGemini_Normalize(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Bon"},{"text":"jour"}]},"finishReason":"SAFETY","index":0}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":3,"totalTokenCount":5},"modelVersion":"gemini-2.0-flash"}`)
	resp := geminiFamily{}.Normalize(OpChat, body, "gemini", time.Now())

	assert.Equal(t, "Bonjour", resp.Content)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, openai.FinishReasonContentFilter, resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestTransform_PayloadsEncode(t *testing.T) {
	req := chatRequest()
	for name, f := range map[string]Family{"openai": openAIFamily{}, "anthropic": anthropicFamily{}, "gemini": geminiFamily{}} {
		call, err := f.Transform(OpChat, "", req, Config{Name: name, DefaultModel: "m"})
		require.NoError(t, err, name)
		_, err = json.Marshal(call.Payload)
		assert.NoError(t, err, name)
	}
}
