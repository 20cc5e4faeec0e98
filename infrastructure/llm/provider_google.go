package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GoogleDefaultModel is used when no model is configured.
const GoogleDefaultModel = "gemini-2.0-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

type googleProvider struct {
	client *genai.Client
	model  string
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &googleProvider{client: client, model: model}, nil
}

func (p *googleProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	o := parseOptions(opts, p.model)

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(min(o.maxTokens, math.MaxInt32)),
	}
	if o.temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*o.temperature))
	}
	if o.system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(o.system, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, o.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", 0, 0, p.wrapError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", 0, 0, &ProviderError{Type: ErrorTypeUnknown, Provider: "google", Err: ErrEmptyResponse}
	}

	in, out := estimateTokens(prompt), estimateTokens(text)
	if u := resp.UsageMetadata; u != nil {
		if u.PromptTokenCount > 0 {
			in = int(u.PromptTokenCount)
		}
		if u.CandidatesTokenCount > 0 {
			out = int(u.CandidatesTokenCount)
		}
	}
	return text, in, out, nil
}

func (p *googleProvider) wrapError(err error) error {
	if ce := classifyContext("google", err); ce != nil {
		return ce
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return googleStatus(apiErr.Code, apiErr.Message, err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		msg := gErr.Message
		if msg == "" && len(gErr.Errors) > 0 {
			msg = gErr.Errors[0].Message
		}
		return googleStatus(gErr.Code, msg, err)
	}
	return &ProviderError{Type: ErrorTypeUnknown, Provider: "google", Message: "request failed", Err: err}
}

// googleStatus classifies by status and recognizes safety blocks, which
// Gemini reports as bad requests.
func googleStatus(code int, message string, err error) *ProviderError {
	pe := classifyStatus("google", code, message, err)
	lower := strings.ToLower(message)
	if strings.Contains(lower, "safety") || strings.Contains(lower, "blocked") {
		pe.Type = ErrorTypeContentPolicy
	}
	return pe
}

func (p *googleProvider) GetModel() string { return p.model }
