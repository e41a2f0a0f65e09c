package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/tools"
	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiProvider creates a Gemini API client authenticated by apiKey.
func NewGeminiProvider(ctx context.Context, apiKey, model string, temperature float64, maxTokens int) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
	}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "Gemini" }

// Complete implements Provider. System messages become the system instruction;
// the remaining history maps to user/model turns.
func (p *GeminiProvider) Complete(ctx context.Context, messages []domain.Message, defs []tools.Definition) (domain.Message, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	temp := p.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: p.maxTokens,
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if len(defs) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(defs))
		for _, d := range defs {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  geminiSchema(d.Function.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	res, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return domain.Message{}, upstream(p.Name(), 0, err)
	}
	if res == nil || len(res.Candidates) == 0 {
		return domain.Message{}, upstream(p.Name(), 0, ErrEmptyResponse)
	}

	msg := domain.AssistantMessage(strings.TrimSpace(res.Text()))
	for _, fc := range res.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return domain.Message{}, fmt.Errorf("encode gemini function args: %w", err)
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:   fc.ID,
			Type: "function",
			Function: domain.FunctionCall{
				Name:      fc.Name,
				Arguments: string(args),
			},
		})
	}
	return msg, nil
}

// ListModels implements Provider. Only the first page is counted.
func (p *GeminiProvider) ListModels(ctx context.Context) (int, error) {
	page, err := p.client.Models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		return 0, upstream(p.Name(), 0, err)
	}
	return len(page.Items), nil
}

func geminiSchema(params tools.Parameters) *genai.Schema {
	props := make(map[string]*genai.Schema, len(params.Properties))
	for name, prop := range params.Properties {
		props[name] = &genai.Schema{
			Type:        genai.TypeString,
			Description: prop.Description,
			Enum:        prop.Enum,
		}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   params.Required,
	}
}
