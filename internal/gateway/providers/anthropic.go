package providers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// anthropicFamily speaks the Messages API: system prompt is a top-level
// field and max_tokens is mandatory.
type anthropicFamily struct{}

// anthropicMessage is one turn of the messages array. A leading system turn
// is lifted into the top-level system field instead.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the non-streaming /messages body.
type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (anthropicFamily) Name() string { return "anthropic" }

func (anthropicFamily) Authorize(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
}

func (anthropicFamily) Transform(op Operation, endpoint string, req Request, cfg Config) (*Call, error) {
	model := modelOrDefault(req.Model, cfg.DefaultModel)
	call := &Call{Path: "/messages", Model: model}

	var msgs []openai.ChatCompletionMessage
	switch op {
	case OpChat:
		msgs = req.Messages
	case OpCompletion:
		msgs = []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: req.Prompt}}
	case OpGeneric:
		call.Path = endpoint
		msgs = req.Messages
		if len(msgs) == 0 && req.Prompt != "" {
			msgs = []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: req.Prompt}}
		}
	default:
		return nil, &UnsupportedOperationError{Provider: cfg.Name, Operation: op}
	}

	system, rest := splitLeadingSystem(msgs)
	wireMsgs := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		wireMsgs = append(wireMsgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	payload := map[string]any{
		"model":      model,
		"messages":   wireMsgs,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}
	if req.Stream {
		payload["stream"] = true
		call.Stream = true
	}
	mergeExtra(payload, req.Extra)
	call.Payload = payload
	return call, nil
}

// splitLeadingSystem removes the system messages at the head of the list and
// joins them into a single prompt.
func splitLeadingSystem(msgs []openai.ChatCompletionMessage) (string, []openai.ChatCompletionMessage) {
	var parts []string
	i := 0
	for ; i < len(msgs) && msgs[i].Role == openai.ChatMessageRoleSystem; i++ {
		parts = append(parts, msgs[i].Content)
	}
	return strings.Join(parts, "\n"), msgs[i:]
}

func (anthropicFamily) Normalize(op Operation, body []byte, provider string, now time.Time) *Response {
	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil || (wire.Type != "message" && len(wire.Content) == 0) {
		return passthrough(body, provider, now)
	}

	var content strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	resp := &Response{
		ID:        wire.ID,
		Content:   content.String(),
		Model:     wire.Model,
		Provider:  provider,
		Timestamp: now,
		Choices:   []openai.ChatCompletionChoice{assistantChoice(0, content.String(), anthropicFinishReason(wire.StopReason))},
		Usage: &openai.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
	}
	if op == OpGeneric {
		resp.Raw = append(json.RawMessage(nil), body...)
	}
	return resp
}

func anthropicFinishReason(stop string) string {
	switch stop {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return stop
	}
}

func (anthropicFamily) NewStream(body io.ReadCloser, model string) StreamReader {
	return &anthropicStreamReader{sse: newSSEReader(body), body: body, model: model}
}
