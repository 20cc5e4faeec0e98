package llm

import (
	"context"
	"sync"
	"time"
)

// MockCoreLLM is a scriptable CoreLLM for tests. Calls consume Script in
// order; once it is exhausted every call returns Response.
type MockCoreLLM struct {
	mu sync.Mutex

	Response  string
	TokensIn  int
	TokensOut int
	Model     string
	Delay     time.Duration

	// Script holds per-call outcomes consumed front to back.
	Script []MockStep

	CallCount  int
	LastPrompt string
	LastOpts   map[string]any
}

// MockStep is one scripted outcome.
type MockStep struct {
	Response string
	Err      error
}

// NewMockCoreLLM returns a mock answering "test response".
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// DoRequest implements CoreLLM.
func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastPrompt = prompt
	m.LastOpts = opts
	delay := m.Delay
	step := MockStep{Response: m.Response}
	if len(m.Script) > 0 {
		step = m.Script[0]
		m.Script = m.Script[1:]
	}
	in, out := m.TokensIn, m.TokensOut
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}
	if step.Err != nil {
		return "", 0, 0, step.Err
	}
	return step.Response, in, out, nil
}

// GetModel implements CoreLLM.
func (m *MockCoreLLM) GetModel() string { return m.Model }

// Calls returns the number of requests received so far.
func (m *MockCoreLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}
