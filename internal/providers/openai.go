package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// OpenAIProvider adapts the go-openai client to agent.Provider.
type OpenAIProvider struct {
	client     *openai.Client
	tierModels map[models.Tier]string
	maxTokens  int
}

// NewOpenAIProvider builds a provider with a tier-to-model catalog.
func NewOpenAIProvider(apiKey string, tierModels map[models.Tier]string) *OpenAIProvider {
	return &OpenAIProvider{
		client:     openai.NewClient(apiKey),
		tierModels: tierModels,
		maxTokens:  4096,
	}
}

// Name implements agent.Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) model(tier models.Tier) string {
	if m, ok := p.tierModels[tier]; ok {
		return m
	}
	return p.tierModels[models.TierMedium]
}

// Complete implements the single-shot, tool-free path.
func (p *OpenAIProvider) Complete(ctx context.Context, tier models.Tier, prompt string) (string, agent.Usage, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model(tier),
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	})
	if err != nil {
		return "", agent.Usage{}, fmt.Errorf("openai: %w", err)
	}
	usage := agent.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// ChatWithTools implements the iteration path.
func (p *OpenAIProvider) ChatWithTools(ctx context.Context, tier models.Tier, messages []models.Message, opts agent.ChatOptions) (*agent.ChatResult, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model(tier),
		Messages: convertOpenAIMessages(messages),
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	} else {
		req.MaxTokens = p.maxTokens
	}
	if opts.ToolChoice == agent.ToolChoiceNone {
		req.ToolChoice = "none"
	} else if len(opts.Tools) > 0 {
		req.Tools = convertOpenAITools(opts.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	choice := resp.Choices[0].Message
	result := &agent.ChatResult{
		Content: choice.Content,
		Model:   resp.Model,
		Usage:   agent.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	for _, tc := range choice.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

func convertOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, out)
		case models.RoleTool:
			// OpenAI expects one message per tool result.
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content(),
					ToolCallID: tr.ToolCallID,
				})
			}
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func convertOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
