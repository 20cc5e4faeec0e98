// Package llm provides a provider-neutral language model client used by
// language-model backed workers.
//
// Providers (Anthropic, OpenAI, Google) implement CoreLLM and register
// themselves by name. Cross-cutting behavior such as retries, metrics and
// tracing is added with Middleware, applied so that the first middleware
// in ClientConfig.Middleware is the outermost.
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-3-5-haiku-latest",
//	    Middleware: []llm.Middleware{
//	        llm.TracingMiddleware("anthropic"),
//	        llm.RetryMiddleware(3, 200*time.Millisecond, 5*time.Second),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.LLMClient = (*Client)(nil)

// DefaultMaxTokens is used when a request does not set max_tokens.
const DefaultMaxTokens = 1024

// CoreLLM is the minimal contract a provider implements.
type CoreLLM interface {
	// DoRequest sends prompt and returns the response text with input and
	// output token counts.
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (response string, tokensIn, tokensOut int, err error)

	// GetModel returns the model used when a request does not override it.
	GetModel() string
}

// Middleware wraps a CoreLLM with additional behavior.
type Middleware func(CoreLLM) CoreLLM

// ClientConfig configures NewClient.
type ClientConfig struct {
	// APIKey authenticates with the provider.
	APIKey string `yaml:"api_key" json:"-"`

	// Model is the default model for requests.
	Model string `yaml:"model" json:"model"`

	// BaseURL overrides the provider endpoint, mainly for tests and proxies.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// Timeout bounds each HTTP request. Zero leaves the SDK default.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// Middleware is applied in order, the first being outermost.
	Middleware []Middleware `yaml:"-" json:"-"`
}

// ProviderFactory creates a provider from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory makes a provider available to NewClient.
func RegisterProviderFactory(provider string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[provider] = factory
}

// Providers lists the registered provider names.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client adapts a middleware-wrapped CoreLLM to ports.LLMClient.
type Client struct {
	core CoreLLM
}

// NewClient builds a client for the named provider.
func NewClient(provider string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factoriesMu.RLock()
	factory, ok := providerFactories[provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", provider, err)
	}
	return NewClientFromCore(core, config.Middleware...), nil
}

// NewClientFromCore wraps an existing CoreLLM, which is how tests and
// custom providers obtain a Client.
func NewClientFromCore(core CoreLLM, middleware ...Middleware) *Client {
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return &Client{core: core}
}

// Complete returns the response text for prompt.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.core.DoRequest(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage returns the response text with token usage.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// GetModel returns the default model.
func (c *Client) GetModel() string { return c.core.GetModel() }

// requestOptions are the request settings understood by every provider.
type requestOptions struct {
	model       string
	system      string
	maxTokens   int
	temperature *float64
}

// parseOptions reads the common options, ignoring values of the wrong
// type or out of range.
func parseOptions(opts map[string]any, defaultModel string) requestOptions {
	o := requestOptions{model: defaultModel, maxTokens: DefaultMaxTokens}

	if m, ok := opts["model"].(string); ok && m != "" {
		o.model = m
	}
	if s, ok := opts["system"].(string); ok {
		o.system = s
	}
	switch n := opts["max_tokens"].(type) {
	case int:
		if n > 0 {
			o.maxTokens = n
		}
	case int64:
		if n > 0 {
			o.maxTokens = int(n)
		}
	case float64:
		if n > 0 {
			o.maxTokens = int(n)
		}
	}
	switch t := opts["temperature"].(type) {
	case float64:
		if t >= 0 && t <= 2 {
			o.temperature = &t
		}
	case float32:
		if t >= 0 && t <= 2 {
			f := float64(t)
			o.temperature = &f
		}
	case int:
		if t >= 0 && t <= 2 {
			f := float64(t)
			o.temperature = &f
		}
	}
	return o
}

// estimateTokens approximates a token count at four characters per token
// for providers that omit usage.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
