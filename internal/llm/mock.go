package llm

import (
	"context"
	"sync"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/tools"
)

// Call records one Complete invocation on a MockProvider.
type Call struct {
	Messages []domain.Message
	Tools    []tools.Definition
}

// MockProvider replays scripted replies. It backs LLM_PROVIDER=mock and tests.
type MockProvider struct {
	mu      sync.Mutex
	replies []domain.Message
	next    int
	calls   []Call

	// Err, when set, fails every call with an UpstreamError.
	Err error
	// Models is the count reported by ListModels.
	Models int
}

// NewMockProvider returns a mock that cycles through replies. With no replies
// it uses a short built-in script.
func NewMockProvider(replies ...domain.Message) *MockProvider {
	if len(replies) == 0 {
		replies = []domain.Message{
			domain.AssistantMessage("Ooh, hello friend! What is the very first thing you spot in this picture?"),
			{
				Role:    domain.RoleAssistant,
				Content: "Wow, what a great observation! What do you think happens next?",
				ToolCalls: []domain.ToolCall{{
					Type:     "function",
					Function: domain.FunctionCall{Name: tools.NameCelebrate, Arguments: `{"message":"Amazing!","animation":"stars"}`},
				}},
			},
			domain.AssistantMessage("Yay! Thank you so much for chatting with me. Bye for now!"),
		}
	}
	return &MockProvider{replies: replies, Models: 1}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "Mock" }

// Complete implements Provider.
func (m *MockProvider) Complete(_ context.Context, messages []domain.Message, defs []tools.Definition) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sent := make([]domain.Message, len(messages))
	copy(sent, messages)
	m.calls = append(m.calls, Call{Messages: sent, Tools: defs})

	if m.Err != nil {
		return domain.Message{}, upstream(m.Name(), 0, m.Err)
	}
	reply := m.replies[m.next%len(m.replies)]
	m.next++
	return reply, nil
}

// ListModels implements Provider.
func (m *MockProvider) ListModels(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, upstream(m.Name(), 0, m.Err)
	}
	return m.Models, nil
}

// Calls returns the recorded Complete calls.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// SetError swaps the failure returned by subsequent calls.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}
