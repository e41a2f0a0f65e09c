package llm

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/pkoukk/tiktoken-go"
)

// Budget limits the history sent upstream. The leading system message and the
// newest message are always kept; older turns are dropped first.
type Budget struct {
	MaxTokens int
	MaxTurns  int

	// Counter overrides token counting when set.
	Counter func(string) int

	// load fetches the encoding; tiktoken downloads it on first use.
	load    func() (*tiktoken.Tiktoken, error)
	loading sync.Once
	enc     atomic.Pointer[tiktoken.Tiktoken]
}

// NewBudget returns a budget of maxTokens tokens and maxTurns non-system messages.
func NewBudget(maxTokens, maxTurns int) *Budget {
	return &Budget{
		MaxTokens: maxTokens,
		MaxTurns:  maxTurns,
		load:      func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding("cl100k_base") },
	}
}

// Preload starts loading the encoding in the background. It returns at once
// and is safe to call repeatedly.
func (b *Budget) Preload() {
	if b.Counter != nil || b.load == nil {
		return
	}
	b.loading.Do(func() {
		go func() {
			enc, err := b.load()
			if err != nil {
				slog.Warn("tiktoken encoding unavailable, estimating tokens by length", "error", err)
				return
			}
			b.enc.Store(enc)
		}()
	})
}

// Count estimates the tokens in s. Until the encoding has loaded it falls
// back to len/4; it never waits for the download.
func (b *Budget) Count(s string) int {
	if b.Counter != nil {
		return b.Counter(s)
	}
	if enc := b.enc.Load(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	b.Preload()
	return len(s) / 4
}

// Fit returns the contiguous newest suffix of messages that fits the budget,
// preceded by the leading system message if there is one. The input is not
// modified.
func (b *Budget) Fit(messages []domain.Message) []domain.Message {
	if len(messages) == 0 {
		return nil
	}

	var head []domain.Message
	rest := messages
	if messages[0].Role == domain.RoleSystem {
		head = messages[:1]
		rest = messages[1:]
	}

	used := 0
	for _, m := range head {
		used += b.Count(m.Content)
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		kept := len(rest) - i
		cost := b.Count(rest[i].Content)
		newest := i == len(rest)-1
		if !newest && (kept > b.MaxTurns || used+cost > b.MaxTokens) {
			break
		}
		used += cost
		start = i
	}

	out := make([]domain.Message, 0, len(head)+len(rest)-start)
	out = append(out, head...)
	out = append(out, rest[start:]...)
	if dropped := start; dropped > 0 {
		slog.Debug("context budget dropped oldest messages", "dropped", dropped, "tokens", used)
	}
	return out
}
