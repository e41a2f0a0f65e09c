package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/tools"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider drives an OpenAI-compatible endpoint through langchaingo.
// Model listing is not part of the langchaingo surface, so it is delegated to
// a plain OpenAIClient on the same endpoint.
type LangChainProvider struct {
	model       llms.Model
	models      *OpenAIClient
	temperature float64
	maxTokens   int
}

// NewLangChainProvider builds the langchaingo client for baseURL.
func NewLangChainProvider(lister *OpenAIClient) (*LangChainProvider, error) {
	model, err := openai.New(
		openai.WithToken(lister.APIKey),
		openai.WithBaseURL(lister.BaseURL),
		openai.WithModel(lister.Model),
		openai.WithHTTPClient(lister.HTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("create langchain openai client: %w", err)
	}
	return &LangChainProvider{
		model:       model,
		models:      lister,
		temperature: lister.Temperature,
		maxTokens:   lister.MaxTokens,
	}, nil
}

// Name implements Provider.
func (p *LangChainProvider) Name() string { return "LangChain/" + p.models.Name() }

// Complete implements Provider.
func (p *LangChainProvider) Complete(ctx context.Context, messages []domain.Message, defs []tools.Definition) (domain.Message, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatType(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithTemperature(p.temperature),
		llms.WithMaxTokens(p.maxTokens),
	}
	if len(defs) > 0 {
		lcTools := make([]llms.Tool, 0, len(defs))
		for _, d := range defs {
			lcTools = append(lcTools, llms.Tool{
				Type: d.Type,
				Function: &llms.FunctionDefinition{
					Name:        d.Function.Name,
					Description: d.Function.Description,
					Parameters:  d.Schema(),
				},
			})
		}
		opts = append(opts, llms.WithTools(lcTools))
	}

	resp, err := p.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return domain.Message{}, upstream(p.Name(), 0, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return domain.Message{}, upstream(p.Name(), 0, ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	msg := domain.AssistantMessage(strings.TrimSpace(choice.Content))
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: domain.FunctionCall{
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			},
		})
	}
	return msg, nil
}

// ListModels implements Provider.
func (p *LangChainProvider) ListModels(ctx context.Context) (int, error) {
	return p.models.ListModels(ctx)
}

func chatType(role domain.Role) llms.ChatMessageType {
	switch role {
	case domain.RoleSystem:
		return llms.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
