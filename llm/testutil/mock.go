// Package testutil provides a scriptable invoker for engine and gate tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
)

// Call records one invocation received by the mock.
type Call struct {
	ModelID string
	Prompt  string
}

// MockInvoker is a scriptable replacement for llm.Client. Responses are
// served per model ID, falling back to the Default response. Safe for
// concurrent use.
type MockInvoker struct {
	mu sync.Mutex

	// Responses maps model ID to the canned invocation to return.
	Responses map[string]*llm.Invocation

	// Errors maps model ID to an error to return instead.
	Errors map[string]error

	// Default is returned when no per-model response is scripted.
	Default *llm.Invocation

	// Delay simulates invocation latency; the context deadline is honored.
	Delay time.Duration

	calls []Call
}

// NewMockInvoker returns a mock that echoes the prompt with small token
// counts unless scripted otherwise.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		Responses: make(map[string]*llm.Invocation),
		Errors:    make(map[string]error),
		Default: &llm.Invocation{
			Content:      "mock response",
			InputTokens:  100,
			OutputTokens: 50,
			Latency:      10 * time.Millisecond,
			FinishReason: "stop",
		},
	}
}

// Invoke implements the engine's invoker contract.
func (m *MockInvoker) Invoke(ctx context.Context, info *model.Info, prompt string) (*llm.Invocation, error) {
	if info == nil {
		return nil, fmt.Errorf("model is required")
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{ModelID: info.ID, Prompt: prompt})
	delay := m.Delay
	err := m.Errors[info.ID]
	resp := m.Responses[info.ID]
	if resp == nil {
		resp = m.Default
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		return nil, err
	}

	out := *resp
	out.Model = info.Model
	return &out, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockInvoker) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of invocations received.
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
