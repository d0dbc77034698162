// Package providers supplies concrete llmgateway.Provider implementations
// over real LLM SDKs.
package providers

import (
	"context"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/llmgateway"
)

// AnthropicProvider adapts the Anthropic Messages API to llmgateway.Provider.
type AnthropicProvider struct {
	client anthropic.Client
	limit  *outboundLimiter
}

// NewAnthropicProvider builds a provider using an API key from config/env.
// Requests are paced at requestsPerSecond (0 disables pacing) to avoid
// exhausting a shared API key's quota ahead of the gateway's own circuit
// breaker.
func NewAnthropicProvider(apiKey string, requestsPerSecond float64) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		limit:  newOutboundLimiter(requestsPerSecond, 5),
	}
}

func toAnthropicMessages(msgs []llmgateway.CompletionMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// system and tool-role messages are both folded into user
			// turns; the request's System field is not set.
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

// Complete issues a single non-streaming Anthropic Messages call.
func (p *AnthropicProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	if err := p.limit.wait(ctx); err != nil {
		return nil, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			content += text.Text
		}
	}

	finish := llmgateway.FinishStop
	if string(msg.StopReason) == "tool_use" {
		finish = llmgateway.FinishToolCalls
	}

	return &llmgateway.CompletionResponse{
		Content:      content,
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		FinishReason: finish,
	}, nil
}

// Stream issues a streaming Anthropic Messages call and forwards text
// deltas as CompletionChunks.
func (p *AnthropicProvider) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.CompletionChunk, error) {
	if err := p.limit.wait(ctx); err != nil {
		return nil, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan llmgateway.CompletionChunk)

	go func() {
		defer close(out)
		var message anthropic.Message
		var full string
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- llmgateway.CompletionChunk{FinishReason: llmgateway.FinishError}
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text := delta.Delta.Text; text != "" {
					full += text
					out <- llmgateway.CompletionChunk{ContentDelta: text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llmgateway.CompletionChunk{FinishReason: llmgateway.FinishError}
			return
		}
		out <- llmgateway.CompletionChunk{
			FinishReason: llmgateway.FinishStop,
			Final: &llmgateway.CompletionResponse{
				Content:      full,
				Model:        string(message.Model),
				InputTokens:  int(message.Usage.InputTokens),
				OutputTokens: int(message.Usage.OutputTokens),
				FinishReason: llmgateway.FinishStop,
			},
		}
	}()

	return out, nil
}
