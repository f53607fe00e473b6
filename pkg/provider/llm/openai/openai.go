// Package openai implements llm.Provider on top of the official OpenAI Go
// SDK.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/types"
)

// Provider talks to the OpenAI chat completions API with a fixed model.
type Provider struct {
	client oai.Client
	model  string
}

// Option tweaks client construction.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a different API host, e.g. a proxy or an
// OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithBaseURL(url))
	}
}

// WithOrganization attaches an organization ID to every request.
func WithOrganization(org string) Option {
	return func(ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithOrganization(org))
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New builds a Provider. Both apiKey and model are required.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.toChatParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.toChatParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		// Tool-call fragments arrive spread across deltas, keyed by the
		// SDK's call index; stitch them back together before the final
		// chunk.
		partial := map[int]*types.ToolCall{}
		maxIdx := -1

		for stream.Next() {
			frame := stream.Current()
			if len(frame.Choices) == 0 {
				continue
			}
			choice := frame.Choices[0]

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := int(tc.Index)
				call := partial[idx]
				if call == nil {
					call = &types.ToolCall{}
					partial[idx] = call
					if idx > maxIdx {
						maxIdx = idx
					}
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				for i := 0; i <= maxIdx; i++ {
					if call, ok := partial[i]; ok {
						out.ToolCalls = append(out.ToolCalls, *call)
					}
				}
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// CountTokens implements llm.Provider.
// TODO: replace with tiktoken-go for accurate per-model token counting.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		// ~4 chars per token for GPT-series text, plus per-message framing.
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// capsRow maps a model-name prefix to its capability set. First match wins,
// so more specific prefixes come first.
type capsRow struct {
	prefix string
	caps   types.ModelCapabilities
}

var knownModels = []capsRow{
	{"gpt-4o-mini", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{"gpt-4-turbo", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{"gpt-4", types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true}},
	{"gpt-3.5-turbo", types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true}},
	{"o1-mini", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536, SupportsStreaming: true}},
	{"o1", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{"o3-mini", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true, SupportsStreaming: true}},
	{"o3", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
}

func modelCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, row := range knownModels {
		if strings.HasPrefix(lower, row.prefix) {
			return row.caps
		}
	}
	// Unrecognised model: assume a modern chat model.
	return types.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
		SupportsStreaming:   true,
	}
}

func (p *Provider) toChatParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		converted, err := toMessageParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, converted)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return params, nil
}

func toMessageParam(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
