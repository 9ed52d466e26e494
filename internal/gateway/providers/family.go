package providers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Family converts between the canonical request/response and one wire
// convention. Implementations are stateless and side-effect free.
type Family interface {
	Name() string
	Transform(op Operation, endpoint string, req Request, cfg Config) (*Call, error)
	Normalize(op Operation, body []byte, provider string, now time.Time) *Response
	NewStream(body io.ReadCloser, model string) StreamReader
	Authorize(h http.Header, apiKey string)
}

type wellKnown struct {
	baseURL string
	model   string
	family  Family
}

var known = map[string]wellKnown{
	"openai": {
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o-mini",
		family:  openAIFamily{},
	},
	"groq": {
		baseURL: "https://api.groq.com/openai/v1",
		model:   "llama-3.3-70b-versatile",
		family:  openAIFamily{},
	},
	"anthropic": {
		baseURL: "https://api.anthropic.com/v1",
		model:   "claude-3-5-haiku-20241022",
		family:  anthropicFamily{},
	},
	"gemini": {
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		model:   "gemini-2.0-flash",
		family:  geminiFamily{},
	},
}

// aliases map alternative spellings onto the well-known names.
var aliases = map[string]string{
	"google": "gemini",
	"claude": "anthropic",
}

// KnownProviders lists the names with built-in defaults.
func KnownProviders() []string {
	return []string{"openai", "anthropic", "gemini", "groq"}
}

// resolve picks the family and fills in the default base URL and model.
// Unknown names are accepted as OpenAI-compatible if a base URL is given.
func resolve(cfg Config) (Config, Family, error) {
	name := strings.ToLower(cfg.Name)
	if alias, ok := aliases[name]; ok {
		name = alias
	}

	wk, ok := known[name]
	if !ok {
		if cfg.BaseURL == "" {
			return cfg, nil, &UnsupportedProviderError{Name: cfg.Name}
		}
		cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		return cfg, openAIFamily{}, nil
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = wk.baseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = wk.model
	}
	return cfg, wk.family, nil
}

func modelOrDefault(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

// mergeExtra copies passthrough fields without overriding transformed ones.
func mergeExtra(payload map[string]any, extra map[string]any) {
	for k, v := range extra {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
}

// embeddingInput picks the text to embed: explicit input, then prompt, then
// the message contents.
func embeddingInput(req Request) any {
	if req.Input != nil {
		return req.Input
	}
	if req.Prompt != "" {
		return req.Prompt
	}
	if len(req.Messages) > 0 {
		texts := make([]string, 0, len(req.Messages))
		for _, m := range req.Messages {
			texts = append(texts, m.Content)
		}
		return texts
	}
	return ""
}

// inputTexts flattens an embedding input into a list of strings.
func inputTexts(in any) []string {
	switch v := in.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// passthrough wraps an unrecognised body in the response envelope.
func passthrough(body []byte, provider string, now time.Time) *Response {
	var raw []byte
	if json.Valid(body) {
		raw = make([]byte, len(body))
		copy(raw, body)
	} else {
		raw, _ = json.Marshal(string(body))
	}
	return &Response{
		Provider:  provider,
		Timestamp: now,
		Raw:       raw,
	}
}
