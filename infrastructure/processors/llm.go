package processors

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/text/cases"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.Processor = (*LLM)(nil)

// Output formats understood by the LLM processor.
const (
	OutputNumber = "number"
	OutputLabel  = "label"
)

var numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?`)

// LLMConfig configures a language-model backed processor.
type LLMConfig struct {
	// Prompt is a text/template rendered with .Payload, .Prompt and
	// .Attributes.
	Prompt string `yaml:"prompt" json:"prompt" validate:"required"`

	// Output selects how the response is parsed.
	Output string `yaml:"output" json:"output" validate:"oneof=number label"`

	// Labels restricts label output to this set, compared case-insensitively.
	Labels []string `yaml:"labels" json:"labels,omitempty" validate:"omitempty,dive,required"`

	// Min and Max bound number output when Max > Min.
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`

	Model       string  `yaml:"model" json:"model,omitempty"`
	System      string  `yaml:"system" json:"system,omitempty"`
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens" validate:"gte=1,lte=8192"`

	// Confidence is reported for any response that parsed.
	Confidence float64 `yaml:"confidence" json:"confidence" validate:"gte=0,lte=1"`
}

// DefaultLLMConfig returns a number-producing config with a deterministic
// temperature.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Output:     OutputNumber,
		MaxTokens:  64,
		Confidence: 0.7,
	}
}

// LLM asks a language model for the value and parses its reply.
type LLM struct {
	config LLMConfig
	client ports.LLMClient
	prompt *template.Template
}

// NewLLM validates config and compiles its prompt template.
func NewLLM(config LLMConfig, client ports.LLMClient) (*LLM, error) {
	if client == nil {
		return nil, ErrMissingClient
	}
	if err := decodeParams(nil, &config); err != nil {
		return nil, err
	}
	tmpl, err := template.New("prompt").Funcs(templateFuncs()).Option("missingkey=zero").Parse(config.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: parse prompt template: %w", domain.ErrInvalidConfiguration, err)
	}
	return &LLM{config: config, client: client, prompt: tmpl}, nil
}

// LLMFactory returns a ports.ProcessorFactory bound to client.
func LLMFactory(client ports.LLMClient) ports.ProcessorFactory {
	return func(cfg domain.WorkerConfig) (ports.Processor, error) {
		config := DefaultLLMConfig()
		if err := decodeParams(cfg.Parameters, &config); err != nil {
			return nil, err
		}
		return NewLLM(config, client)
	}
}

// Config returns the active configuration.
func (p *LLM) Config() LLMConfig { return p.config }

type promptData struct {
	Payload    string
	Prompt     string
	Attributes map[string]string
}

// Process renders the prompt, calls the model and parses the reply.
func (p *LLM) Process(ctx context.Context, input domain.Input) (domain.Value, error) {
	data := promptData{Payload: input.Payload().String()}
	data.Prompt, _ = domain.Get(input, domain.KeyPrompt)
	data.Attributes, _ = domain.Get(input, domain.KeyAttributes)

	var buf bytes.Buffer
	if err := p.prompt.Execute(&buf, data); err != nil {
		return domain.Empty(), fmt.Errorf("render prompt: %w", err)
	}

	opts := map[string]any{"max_tokens": p.config.MaxTokens, "temperature": p.config.Temperature}
	if p.config.Model != "" {
		opts["model"] = p.config.Model
	}
	if p.config.System != "" {
		opts["system"] = p.config.System
	}

	reply, err := p.client.Complete(ctx, buf.String(), opts)
	if err != nil {
		return domain.Empty(), fmt.Errorf("complete: %w", err)
	}
	if p.config.Output == OutputLabel {
		return p.parseLabel(reply)
	}
	return p.parseNumber(reply)
}

func (p *LLM) parseNumber(reply string) (domain.Value, error) {
	match := numberPattern.FindString(reply)
	if match == "" {
		return domain.Empty(), fmt.Errorf("%w: no number in %q", ports.ErrInvalidResponse, truncate(reply, 80))
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return domain.Empty(), fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err)
	}
	if p.config.Max > p.config.Min && (f < p.config.Min || f > p.config.Max) {
		return domain.Empty(), fmt.Errorf("%w: %v outside [%v, %v]", ports.ErrInvalidResponse, f, p.config.Min, p.config.Max)
	}
	return domain.Number(f), nil
}

func (p *LLM) parseLabel(reply string) (domain.Value, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	line = strings.Trim(strings.TrimSpace(line), `."'`)
	if line == "" {
		return domain.Empty(), fmt.Errorf("%w: empty label", ports.ErrInvalidResponse)
	}
	if len(p.config.Labels) == 0 {
		return domain.Label(line), nil
	}

	// A Caser carries state, so each call gets its own.
	fold := cases.Fold()
	folded := fold.String(line)
	for _, label := range p.config.Labels {
		if fold.String(label) == folded {
			return domain.Label(label), nil
		}
	}
	// Models often wrap the label in a sentence.
	foldedReply := fold.String(reply)
	for _, label := range p.config.Labels {
		if strings.Contains(foldedReply, fold.String(label)) {
			return domain.Label(label), nil
		}
	}
	return domain.Empty(), fmt.Errorf("%w: %q is not one of %v", ports.ErrInvalidResponse, truncate(line, 80), p.config.Labels)
}

// Confidence returns the configured confidence for non-empty outputs.
func (p *LLM) Confidence(_ domain.Input, output domain.Value) float64 {
	if output.IsEmpty() {
		return 0
	}
	return p.config.Confidence
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"lower":    strings.ToLower,
		"upper":    strings.ToUpper,
		"trim":     strings.TrimSpace,
		"truncate": truncate,
	}
}

// truncate limits s to n bytes, marking the cut with "...".
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	if n > 3 {
		return s[:n-3] + "..."
	}
	return s[:n]
}
