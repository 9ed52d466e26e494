package providers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
)

// StreamReader yields OpenAI-style chunks regardless of the upstream family.
// Recv returns io.EOF once the stream is complete.
type StreamReader interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

const maxSSELine = 1 << 20

// sseReader returns the payload of each "data:" line.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &sseReader{scanner: s}
}

func (r *sseReader) next() (string, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:")), nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// openAIStreamReader decodes OpenAI SSE chunks as-is.
type openAIStreamReader struct {
	sse  *sseReader
	body io.Closer
}

func (r *openAIStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		data, err := r.sse.next()
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}
		if data == "[DONE]" {
			return openai.ChatCompletionStreamResponse{}, io.EOF
		}
		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		return chunk, nil
	}
}

func (r *openAIStreamReader) Close() error { return r.body.Close() }

// anthropicStreamReader converts Messages API events to chunks.
type anthropicStreamReader struct {
	sse   *sseReader
	body  io.Closer
	model string
	id    string
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

func (r *anthropicStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		data, err := r.sse.next()
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				r.id = event.Message.ID
				if event.Message.Model != "" {
					r.model = event.Message.Model
				}
			}
			return r.chunk(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}, ""), nil
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				return r.chunk(openai.ChatCompletionStreamChoiceDelta{Content: event.Delta.Text}, ""), nil
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				return r.chunk(openai.ChatCompletionStreamChoiceDelta{}, anthropicFinishReason(event.Delta.StopReason)), nil
			}
		case "message_stop":
			return openai.ChatCompletionStreamResponse{}, io.EOF
		case "error":
			return openai.ChatCompletionStreamResponse{}, fmt.Errorf("anthropic stream error: %s", data)
		}
	}
}

func (r *anthropicStreamReader) chunk(delta openai.ChatCompletionStreamChoiceDelta, finish string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      r.id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   r.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: openai.FinishReason(finish),
		}},
	}
}

func (r *anthropicStreamReader) Close() error { return r.body.Close() }

// geminiStreamReader converts streamGenerateContent SSE frames to chunks.
type geminiStreamReader struct {
	sse   *sseReader
	body  io.Closer
	model string
}

func (r *geminiStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		data, err := r.sse.next()
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}
		var frame geminiResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue
		}
		return r.convert(frame), nil
	}
}

func (r *geminiStreamReader) convert(frame geminiResponse) openai.ChatCompletionStreamResponse {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      fmt.Sprintf("gemini-stream-%d", time.Now().UnixNano()),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   r.model,
		Choices: []openai.ChatCompletionStreamChoice{},
	}

	if len(frame.Candidates) > 0 {
		cand := frame.Candidates[0]
		choice := openai.ChatCompletionStreamChoice{Index: cand.Index}
		if cand.Content.Role != "" {
			choice.Delta.Role = openai.ChatMessageRoleAssistant
		}
		choice.Delta.Content = geminiText(cand.Content)
		if cand.FinishReason != "" {
			choice.FinishReason = openai.FinishReason(geminiFinishReason(cand.FinishReason))
		}
		chunk.Choices = []openai.ChatCompletionStreamChoice{choice}
	}

	if frame.UsageMetadata.TotalTokenCount > 0 {
		chunk.Usage = &openai.Usage{
			PromptTokens:     frame.UsageMetadata.PromptTokenCount,
			CompletionTokens: frame.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      frame.UsageMetadata.TotalTokenCount,
		}
	}
	return chunk
}

func (r *geminiStreamReader) Close() error { return r.body.Close() }

// Collect drains a stream into a single canonical response. The stream is
// closed on return.
func Collect(stream StreamReader, provider string, now time.Time) (*Response, error) {
	defer stream.Close()

	var (
		content strings.Builder
		finish  string
		model   string
		id      string
		usage   *openai.Usage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s stream: %w", provider, err)
		}
		if chunk.ID != "" && id == "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, c := range chunk.Choices {
			if c.Index != 0 {
				continue
			}
			content.WriteString(c.Delta.Content)
			if c.FinishReason != "" {
				finish = string(c.FinishReason)
			}
		}
	}

	text := content.String()
	return &Response{
		ID:        id,
		Content:   text,
		Choices:   []openai.ChatCompletionChoice{assistantChoice(0, text, finish)},
		Usage:     usage,
		Model:     model,
		Provider:  provider,
		Timestamp: now,
	}, nil
}
