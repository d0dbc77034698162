package providers

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
)

// OpenAIProvider adapts an OpenAI-compatible chat completions API (OpenAI
// itself, or any local/free-tier endpoint speaking the same wire format)
// to llmgateway.Provider.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider against the default OpenAI endpoint.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// NewOpenAICompatibleProvider builds a provider against a custom base URL,
// for local/free-tier catalog entries
// that speak the OpenAI wire protocol.
func NewOpenAICompatibleProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func toOpenAIMessages(msgs []llmgateway.CompletionMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		if m.ToolCallID != "" {
			cm.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toOpenAITools(specs []llmgateway.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Schema,
			},
		})
	}
	return out
}

func fromOpenAIFinish(reason openai.FinishReason) llmgateway.FinishReason {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llmgateway.FinishToolCalls
	case openai.FinishReasonLength:
		return llmgateway.FinishLength
	default:
		return llmgateway.FinishStop
	}
}

// Complete issues a single non-streaming chat completion call.
func (p *OpenAIProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       toOpenAITools(req.Tools),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return &llmgateway.CompletionResponse{Model: resp.Model, FinishReason: llmgateway.FinishStop}, nil
	}

	choice := resp.Choices[0]
	var toolCalls []llmgateway.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, llmgateway.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &llmgateway.CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: fromOpenAIFinish(choice.FinishReason),
	}, nil
}

// Stream issues a streaming chat completion call and forwards content
// deltas as CompletionChunks, accumulating the full response for the
// terminal chunk's Final field.
func (p *OpenAIProvider) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.CompletionChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       toOpenAITools(req.Tools),
	})
	if err != nil {
		return nil, err
	}

	out := make(chan llmgateway.CompletionChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var full string
		var model string
		finish := llmgateway.FinishStop

		for {
			resp, err := stream.Recv()
			if err != nil {
				break
			}
			model = resp.Model
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				finish = fromOpenAIFinish(choice.FinishReason)
			}
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			full += delta
			select {
			case out <- llmgateway.CompletionChunk{ContentDelta: delta}:
			case <-ctx.Done():
				return
			}
		}

		out <- llmgateway.CompletionChunk{
			FinishReason: finish,
			Final: &llmgateway.CompletionResponse{
				Content:      full,
				Model:        model,
				FinishReason: finish,
			},
		}
	}()

	return out, nil
}
