package providers

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
)

// Operation is the kind of call the gateway is making.
type Operation string

const (
	OpChat       Operation = "chat"
	OpCompletion Operation = "completion"
	OpEmbeddings Operation = "embeddings"
	// OpGeneric posts to a caller-supplied endpoint path.
	OpGeneric Operation = "generic"
)

// Request is the provider-agnostic request accepted by the gateway.
type Request struct {
	Model       string                         `json:"model,omitempty"`
	Messages    []openai.ChatCompletionMessage `json:"messages,omitempty"`
	Prompt      string                         `json:"prompt,omitempty"`
	Input       any                            `json:"input,omitempty"`
	Temperature *float32                       `json:"temperature,omitempty"`
	MaxTokens   *int                           `json:"max_tokens,omitempty"`
	TopP        *float32                       `json:"top_p,omitempty"`
	Stream      bool                           `json:"stream,omitempty"`

	// Provider pins the request to one provider when it is registered.
	Provider      string            `json:"provider,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	// Extra is merged into the top level of the provider payload.
	Extra map[string]any `json:"extra,omitempty"`
}

// Response is the canonical shape returned for every provider.
type Response struct {
	ID         string                        `json:"id,omitempty"`
	Content    string                        `json:"content"`
	Choices    []openai.ChatCompletionChoice `json:"choices,omitempty"`
	Usage      *openai.Usage                 `json:"usage,omitempty"`
	Embeddings [][]float32                   `json:"embeddings,omitempty"`
	Model      string                        `json:"model,omitempty"`
	Provider   string                        `json:"provider"`
	Timestamp  time.Time                     `json:"timestamp"`
	Cached     bool                          `json:"cached"`
	// Raw carries the provider body when its shape was not recognised, and
	// for embeddings and generic requests.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Call is a transformed request ready to be sent to one provider.
type Call struct {
	Path    string
	Payload map[string]any
	Stream  bool
	Model   string
}

// Config describes one upstream provider.
type Config struct {
	Name         string        `json:"name" yaml:"name"`
	APIKey       string        `json:"apiKey" yaml:"api_key"`
	BaseURL      string        `json:"baseUrl,omitempty" yaml:"base_url"`
	Weight       float64       `json:"weight,omitempty" yaml:"weight"`
	DefaultModel string        `json:"defaultModel,omitempty" yaml:"default_model"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	// MaxRetries is the number of retries after the first attempt. Nil
	// inherits the gateway default.
	MaxRetries *int `json:"maxRetries,omitempty" yaml:"max_retries"`

	// RequestsPerSecond enables a client-side token bucket when > 0.
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty" yaml:"requests_per_second"`
	Burst             int     `json:"burst,omitempty" yaml:"burst"`
}

// Defaults are the gateway-wide values inherited by providers.
type Defaults struct {
	Timeout    time.Duration
	MaxRetries int
}

// Retries returns the effective retry budget.
func (c Config) Retries() int {
	if c.MaxRetries == nil {
		return 0
	}
	return *c.MaxRetries
}

// Masked returns a copy safe to expose in status output.
func (c Config) Masked() Config {
	c.APIKey = MaskKey(c.APIKey)
	return c
}

// MaskKey hides all but the edges of a credential.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int { return &v }
