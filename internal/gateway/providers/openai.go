package providers

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
)

// openAIFamily serves OpenAI and every OpenAI-compatible API (Groq, custom
// base URLs). The canonical request already uses its wire shape.
type openAIFamily struct{}

// openAIResponse covers both chat and legacy completion bodies.
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int                           `json:"index"`
		Message      *openai.ChatCompletionMessage `json:"message"`
		Text         string                        `json:"text"`
		FinishReason string                        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openai.Usage `json:"usage"`
}

type openAIEmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage *openai.Usage `json:"usage"`
}

func (openAIFamily) Name() string { return "openai" }

func (openAIFamily) Authorize(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func (openAIFamily) Transform(op Operation, endpoint string, req Request, cfg Config) (*Call, error) {
	model := modelOrDefault(req.Model, cfg.DefaultModel)
	payload := map[string]any{}
	if model != "" {
		payload["model"] = model
	}

	call := &Call{Payload: payload, Model: model}
	switch op {
	case OpChat:
		call.Path = "/chat/completions"
		payload["messages"] = chatMessages(req.Messages)
	case OpCompletion:
		call.Path = "/completions"
		payload["prompt"] = req.Prompt
	case OpEmbeddings:
		call.Path = "/embeddings"
		payload["input"] = embeddingInput(req)
		mergeExtra(payload, req.Extra)
		return call, nil
	case OpGeneric:
		call.Path = endpoint
		if len(req.Messages) > 0 {
			payload["messages"] = chatMessages(req.Messages)
		}
		if req.Prompt != "" {
			payload["prompt"] = req.Prompt
		}
		if req.Input != nil {
			payload["input"] = req.Input
		}
	default:
		return nil, &UnsupportedOperationError{Provider: cfg.Name, Operation: op}
	}

	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		payload["max_tokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}
	if req.Stream {
		payload["stream"] = true
		call.Stream = true
	}
	mergeExtra(payload, req.Extra)
	return call, nil
}

func (openAIFamily) Normalize(op Operation, body []byte, provider string, now time.Time) *Response {
	if op == OpEmbeddings {
		return normalizeOpenAIEmbeddings(body, provider, now)
	}

	var wire openAIResponse
	if err := json.Unmarshal(body, &wire); err != nil || len(wire.Choices) == 0 {
		return passthrough(body, provider, now)
	}

	resp := &Response{
		ID:        wire.ID,
		Model:     wire.Model,
		Usage:     wire.Usage,
		Provider:  provider,
		Timestamp: now,
	}
	for i, c := range wire.Choices {
		text := c.Text
		if c.Message != nil {
			text = c.Message.Content
		}
		if i == 0 {
			resp.Content = text
		}
		resp.Choices = append(resp.Choices, assistantChoice(c.Index, text, c.FinishReason))
	}
	if op == OpGeneric {
		resp.Raw = append(json.RawMessage(nil), body...)
	}
	return resp
}

func normalizeOpenAIEmbeddings(body []byte, provider string, now time.Time) *Response {
	var wire openAIEmbeddingResponse
	if err := json.Unmarshal(body, &wire); err != nil || len(wire.Data) == 0 {
		return passthrough(body, provider, now)
	}
	resp := passthrough(body, provider, now)
	resp.Model = wire.Model
	resp.Usage = wire.Usage
	for _, d := range wire.Data {
		resp.Embeddings = append(resp.Embeddings, d.Embedding)
	}
	return resp
}

func (openAIFamily) NewStream(body io.ReadCloser, model string) StreamReader {
	return &openAIStreamReader{sse: newSSEReader(body), body: body}
}

// chatMessages keeps the payload a JSON array even when the caller sent none.
func chatMessages(msgs []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if msgs == nil {
		return []openai.ChatCompletionMessage{}
	}
	return msgs
}

// assistantChoice builds the canonical choice entry.
func assistantChoice(index int, content, finishReason string) openai.ChatCompletionChoice {
	return openai.ChatCompletionChoice{
		Index: index,
		Message: openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: content,
		},
		FinishReason: openai.FinishReason(finishReason),
	}
}
