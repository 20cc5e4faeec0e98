package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrBudgetExceeded is wrapped by every BudgetExceededError.
var ErrBudgetExceeded = errors.New("LLM budget exceeded")

// Budget caps the tokens and calls a client may spend. Zero means
// unlimited.
type Budget struct {
	MaxTokens int64 `yaml:"max_tokens" json:"max_tokens" validate:"gte=0"`
	MaxCalls  int64 `yaml:"max_calls" json:"max_calls" validate:"gte=0"`
}

// Usage is the consumption recorded by a BudgetTracker.
type Usage struct {
	Tokens int64 `json:"tokens"`
	Calls  int64 `json:"calls"`
}

// BudgetExceededError reports which limit stopped a request.
type BudgetExceededError struct {
	LimitType string
	Limit     int64
	Used      int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: used %d of %d", e.LimitType, e.Used, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// BudgetTracker accumulates usage across every request that passes through
// its middleware. It is safe for concurrent use; a call slot is reserved
// before the request so concurrent callers cannot overshoot MaxCalls.
// Tokens are only known afterwards, so MaxTokens may be overshot by the
// last admitted request.
type BudgetTracker struct {
	budget Budget
	tokens atomic.Int64
	calls  atomic.Int64
}

// NewBudgetTracker creates a tracker enforcing budget.
func NewBudgetTracker(budget Budget) *BudgetTracker {
	return &BudgetTracker{budget: budget}
}

// Usage returns the consumption so far.
func (b *BudgetTracker) Usage() Usage {
	return Usage{Tokens: b.tokens.Load(), Calls: b.calls.Load()}
}

// Remaining returns what is left of each limit, or -1 for unlimited ones.
func (b *BudgetTracker) Remaining() Usage {
	left := Usage{Tokens: -1, Calls: -1}
	u := b.Usage()
	if b.budget.MaxTokens > 0 {
		left.Tokens = max(b.budget.MaxTokens-u.Tokens, 0)
	}
	if b.budget.MaxCalls > 0 {
		left.Calls = max(b.budget.MaxCalls-u.Calls, 0)
	}
	return left
}

// Middleware returns the enforcing middleware. Requests rejected by the
// budget do not reach the provider.
func (b *BudgetTracker) Middleware() Middleware {
	return func(next CoreLLM) CoreLLM {
		return &budgetLLM{next: next, tracker: b}
	}
}

type budgetLLM struct {
	next    CoreLLM
	tracker *BudgetTracker
}

func (m *budgetLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	b := m.tracker
	if limit := b.budget.MaxTokens; limit > 0 {
		if used := b.tokens.Load(); used >= limit {
			return "", 0, 0, &BudgetExceededError{LimitType: "tokens", Limit: limit, Used: used}
		}
	}
	if limit := b.budget.MaxCalls; limit > 0 {
		if used := b.calls.Add(1); used > limit {
			b.calls.Add(-1)
			return "", 0, 0, &BudgetExceededError{LimitType: "calls", Limit: limit, Used: used - 1}
		}
	} else {
		b.calls.Add(1)
	}

	response, in, out, err := m.next.DoRequest(ctx, prompt, opts)
	b.tokens.Add(int64(in + out))
	return response, in, out, err
}

func (m *budgetLLM) GetModel() string { return m.next.GetModel() }
