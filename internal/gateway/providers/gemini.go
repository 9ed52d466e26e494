package providers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
)

// geminiFamily speaks generateContent: contents/parts instead of messages,
// model in the URL path, generation params nested.
type geminiFamily struct{}

// geminiContent is one entry of contents. Role is "user" or "model" and is
// omitted for the system instruction.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiGenerationConfig carries the sampling parameters that OpenAI sends at
// the top level.
type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse is both the generateContent body and a single
// streamGenerateContent frame.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiEmbeddingResponse struct {
	Embedding *struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (geminiFamily) Name() string { return "gemini" }

func (geminiFamily) Authorize(h http.Header, apiKey string) {
	h.Set("x-goog-api-key", apiKey)
}

func (geminiFamily) Transform(op Operation, endpoint string, req Request, cfg Config) (*Call, error) {
	model := strings.TrimPrefix(modelOrDefault(req.Model, cfg.DefaultModel), "models/")
	call := &Call{Model: model}

	var msgs []openai.ChatCompletionMessage
	switch op {
	case OpChat:
		msgs = req.Messages
	case OpCompletion:
		msgs = []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: req.Prompt}}
	case OpEmbeddings:
		call.Path = fmt.Sprintf("/models/%s:embedContent", model)
		parts := []geminiPart{}
		for _, text := range inputTexts(embeddingInput(req)) {
			parts = append(parts, geminiPart{Text: text})
		}
		call.Payload = map[string]any{
			"model":   "models/" + model,
			"content": geminiContent{Parts: parts},
		}
		mergeExtra(call.Payload, req.Extra)
		return call, nil
	case OpGeneric:
		msgs = req.Messages
		if len(msgs) == 0 && req.Prompt != "" {
			msgs = []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: req.Prompt}}
		}
	default:
		return nil, &UnsupportedOperationError{Provider: cfg.Name, Operation: op}
	}

	switch {
	case op == OpGeneric:
		call.Path = endpoint
	case req.Stream:
		call.Path = fmt.Sprintf("/models/%s:streamGenerateContent?alt=sse", model)
	default:
		call.Path = fmt.Sprintf("/models/%s:generateContent", model)
	}
	call.Stream = req.Stream

	system, rest := splitLeadingSystem(msgs)
	contents := make([]geminiContent, 0, len(rest))
	for _, m := range rest {
		role := m.Role
		switch role {
		case openai.ChatMessageRoleAssistant:
			role = "model"
		case openai.ChatMessageRoleSystem:
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	payload := map[string]any{"contents": contents}
	if system != "" {
		payload["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil {
		payload["generationConfig"] = geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	mergeExtra(payload, req.Extra)
	call.Payload = payload
	return call, nil
}

func (geminiFamily) Normalize(op Operation, body []byte, provider string, now time.Time) *Response {
	if op == OpEmbeddings {
		return normalizeGeminiEmbeddings(body, provider, now)
	}

	var wire geminiResponse
	if err := json.Unmarshal(body, &wire); err != nil || len(wire.Candidates) == 0 {
		return passthrough(body, provider, now)
	}

	resp := &Response{
		Model:     wire.ModelVersion,
		Provider:  provider,
		Timestamp: now,
		Usage: &openai.Usage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		},
	}
	for i, cand := range wire.Candidates {
		text := geminiText(cand.Content)
		if i == 0 {
			resp.Content = text
		}
		resp.Choices = append(resp.Choices, assistantChoice(cand.Index, text, geminiFinishReason(cand.FinishReason)))
	}
	if op == OpGeneric {
		resp.Raw = append(json.RawMessage(nil), body...)
	}
	return resp
}

func normalizeGeminiEmbeddings(body []byte, provider string, now time.Time) *Response {
	var wire geminiEmbeddingResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return passthrough(body, provider, now)
	}
	resp := passthrough(body, provider, now)
	if wire.Embedding != nil {
		resp.Embeddings = append(resp.Embeddings, wire.Embedding.Values)
	}
	for _, e := range wire.Embeddings {
		resp.Embeddings = append(resp.Embeddings, e.Values)
	}
	return resp
}

func geminiText(c geminiContent) string {
	var sb strings.Builder
	for _, part := range c.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func geminiFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

func (geminiFamily) NewStream(body io.ReadCloser, model string) StreamReader {
	return &geminiStreamReader{sse: newSSEReader(body), body: body, model: model}
}
