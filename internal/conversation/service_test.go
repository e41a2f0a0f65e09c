package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/llm"
	"github.com/ashureev/storytime/internal/store"
	"github.com/ashureev/storytime/internal/tools"
)

const oceanDescription = "An underwater castle made of coral with mermaids, seahorses, and glowing jellyfish creating a magical ocean kingdom"

func newTestService(t *testing.T, replies ...domain.Message) (*Service, *llm.MockProvider, *store.MemoryStore) {
	t.Helper()
	if len(replies) == 0 {
		replies = []domain.Message{domain.AssistantMessage("Hi! What do you see?")}
	}
	provider := llm.NewMockProvider(replies...)
	sessions := store.NewMemoryStore(100, time.Minute, nil)
	svc := NewService(provider, sessions, Options{ToolsEnabled: true, Timeout: time.Second, Budget: testBudget()})
	return svc, provider, sessions
}

func testBudget() *llm.Budget {
	b := llm.NewBudget(3000, 40)
	b.Counter = func(s string) int { return len(strings.Fields(s)) }
	return b
}

func seconds(v float64) *float64 { return &v }

func TestStartSeedsSystemPromptAndStoresGreeting(t *testing.T) {
	t.Parallel()

	svc, provider, sessions := newTestService(t)
	reply, err := svc.Start(context.Background(), "s1", oceanDescription)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if reply.Content != "Hi! What do you see?" || reply.Role != domain.RoleAssistant {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(calls))
	}
	sent := calls[0].Messages
	if len(sent) != 2 || sent[0].Role != domain.RoleSystem || sent[1].Content != OpeningLine {
		t.Fatalf("unexpected start messages: %+v", sent)
	}
	if !strings.Contains(sent[0].Content, `"`+oceanDescription+`"`) {
		t.Fatal("system prompt must embed the description in quotes")
	}
	if len(calls[0].Tools) != 2 {
		t.Fatalf("expected both tools declared, got %d", len(calls[0].Tools))
	}

	sess, ok := sessions.Get("s1")
	if !ok {
		t.Fatal("session not stored")
	}
	history := sess.History()
	if len(history) != 2 || history[0].Role != domain.RoleSystem || history[1].Content != reply.Content {
		t.Fatalf("stored history = %+v", history)
	}
	if sess.Status != domain.SessionActive {
		t.Fatalf("status = %s", sess.Status)
	}
}

func TestContinueSendsHistoryPlusOneUserMessage(t *testing.T) {
	t.Parallel()

	svc, provider, sessions := newTestService(t,
		domain.AssistantMessage("Hi! What do you see?"),
		domain.AssistantMessage("A mermaid! What is her name?"),
		domain.AssistantMessage("Lovely name!"),
	)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", oceanDescription); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, text := range []string{"a mermaid", "Coral"} {
		sess, _ := sessions.Get("s1")
		before := sess.History()

		if _, err := svc.Continue(ctx, ContinueRequest{SessionID: "s1", UserMessage: text, TimeRemaining: seconds(45)}); err != nil {
			t.Fatalf("Continue failed: %v", err)
		}

		calls := provider.Calls()
		sent := calls[len(calls)-1].Messages
		if len(sent) != len(before)+1 {
			t.Fatalf("sent %d messages, want %d", len(sent), len(before)+1)
		}
		for i := range before {
			if sent[i].Role != before[i].Role || sent[i].Content != before[i].Content {
				t.Fatalf("message %d changed: %+v vs %+v", i, sent[i], before[i])
			}
		}
		last := sent[len(sent)-1]
		if last.Role != domain.RoleUser || last.Content != text {
			t.Fatalf("unexpected user message: %+v", last)
		}
	}

	sess, _ := sessions.Get("s1")
	if got := sess.Len(); got != 6 {
		t.Fatalf("history length = %d, want 6", got)
	}
}

func TestContinueTimeAnnotations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		remaining *float64
		want      string
	}{
		{"plenty of time", seconds(45), ""},
		{"soft wrap up", seconds(29), softWrapUp},
		{"hard wrap up", seconds(10), hardWrapUp},
		{"boundary 15 is soft", seconds(15), softWrapUp},
		{"boundary 30 is none", seconds(30), ""},
		{"unknown time", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, provider, _ := newTestService(t)
			ctx := context.Background()
			if _, err := svc.Start(ctx, "s", oceanDescription); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if _, err := svc.Continue(ctx, ContinueRequest{SessionID: "s", UserMessage: "a fish", TimeRemaining: tc.remaining}); err != nil {
				t.Fatalf("Continue failed: %v", err)
			}
			calls := provider.Calls()
			sent := calls[len(calls)-1].Messages
			if got := sent[len(sent)-1].Content; got != "a fish"+tc.want {
				t.Fatalf("user content = %q, want %q", got, "a fish"+tc.want)
			}
		})
	}
}

func TestContinueUnknownSession(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, err := svc.Continue(context.Background(), ContinueRequest{SessionID: "missing", UserMessage: "hi"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", oceanDescription); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	svc.End(ctx, "s1")
	svc.End(ctx, "s1")
	svc.End(ctx, "never-existed")

	if sessions.Len() != 0 {
		t.Fatalf("expected no residual sessions, got %d", sessions.Len())
	}
	_, err := svc.Continue(ctx, ContinueRequest{SessionID: "s1", UserMessage: "hello?"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after end, got %v", err)
	}
}

func TestUpstreamFailures(t *testing.T) {
	t.Parallel()

	svc, provider, sessions := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", oceanDescription); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	provider.SetError(errors.New("rate limited"))

	_, err := svc.Continue(ctx, ContinueRequest{SessionID: "s1", UserMessage: "a crab"})
	if !llm.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	sess, _ := sessions.Get("s1")
	if sess.Len() != 2 {
		t.Fatalf("failed continue must not change history, len = %d", sess.Len())
	}

	_, err = svc.Start(ctx, "s2", oceanDescription)
	if !llm.IsUpstream(err) {
		t.Fatalf("expected upstream error on start, got %v", err)
	}
	if _, ok := sessions.Get("s2"); ok {
		t.Fatal("failed start must not store a session")
	}
}

func TestToolsCanBeDisabled(t *testing.T) {
	t.Parallel()

	provider := llm.NewMockProvider(domain.AssistantMessage("hello"))
	svc := NewService(provider, store.NewMemoryStore(10, time.Minute, nil), Options{Budget: testBudget()})
	if _, err := svc.Start(context.Background(), "s", "d"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n := len(provider.Calls()[0].Tools); n != 0 {
		t.Fatalf("expected no tools, got %d", n)
	}
}

func TestConcurrentContinueIsSerialised(t *testing.T) {
	t.Parallel()

	svc, provider, sessions := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", oceanDescription); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Continue(ctx, ContinueRequest{SessionID: "s1", UserMessage: "dup"}); err != nil {
				t.Errorf("Continue failed: %v", err)
			}
		}()
	}
	wg.Wait()

	sess, _ := sessions.Get("s1")
	if got, want := sess.Len(), 2+2*workers; got != want {
		t.Fatalf("history length = %d, want %d", got, want)
	}

	var lengths []int
	for _, c := range provider.Calls()[1:] {
		lengths = append(lengths, len(c.Messages))
	}
	sort.Ints(lengths)
	for i, n := range lengths {
		if want := 3 + 2*i; n != want {
			t.Fatalf("call %d sent %d messages, want %d (interleaved appends)", i, n, want)
		}
	}
}

// gatedProvider holds the next Complete call until release is closed.
type gatedProvider struct {
	*llm.MockProvider

	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProvider) arm() {
	g.mu.Lock()
	g.armed = true
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	g.mu.Unlock()
}

func (g *gatedProvider) Complete(ctx context.Context, messages []domain.Message, defs []tools.Definition) (domain.Message, error) {
	g.mu.Lock()
	hold := g.armed
	g.armed = false
	entered, release := g.entered, g.release
	g.mu.Unlock()

	if hold {
		close(entered)
		<-release
	}
	return g.MockProvider.Complete(ctx, messages, defs)
}

func newGatedService(t *testing.T) (*Service, *gatedProvider, *store.MemoryStore) {
	t.Helper()
	provider := &gatedProvider{MockProvider: llm.NewMockProvider(domain.AssistantMessage("Hello!"))}
	sessions := store.NewMemoryStore(100, time.Minute, nil)
	svc := NewService(provider, sessions, Options{Timeout: time.Second, Budget: testBudget()})
	return svc, provider, sessions
}

func TestContinueDoesNotOverwriteReplacedSession(t *testing.T) {
	t.Parallel()

	svc, provider, sessions := newGatedService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", "old image"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	provider.arm()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Continue(ctx, ContinueRequest{SessionID: "s1", UserMessage: "hi"})
		done <- err
	}()
	<-provider.entered

	if _, err := svc.Start(ctx, "s1", "new image"); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("Continue failed: %v", err)
	}

	sess, ok := sessions.Get("s1")
	if !ok {
		t.Fatal("session missing")
	}
	if sess.ImageDescription != "new image" || sess.Len() != 2 {
		t.Fatalf("stored session = %q with %d messages, want the replacement with 2", sess.ImageDescription, sess.Len())
	}
}

func TestContinueDoesNotRestoreEvictedSession(t *testing.T) {
	t.Parallel()

	svc, provider, sessions := newGatedService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", oceanDescription); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	provider.arm()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Continue(ctx, ContinueRequest{SessionID: "s1", UserMessage: "hi"})
		done <- err
	}()
	<-provider.entered

	sessions.Remove("s1")
	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("Continue failed: %v", err)
	}

	if _, ok := sessions.Get("s1"); ok {
		t.Fatal("evicted session was stored again")
	}
}
