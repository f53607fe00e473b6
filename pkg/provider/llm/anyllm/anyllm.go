// Package anyllm adapts github.com/mozilla-ai/any-llm-go, a single client
// surface over OpenAI, Anthropic, Gemini, Ollama, and several other vendors,
// to the llm.Provider interface. It exists so the summarizer can be pointed
// at a second vendor by configuration alone.
package anyllm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/types"
)

// backends maps a vendor name to its any-llm constructor. Credentials come
// from the passed options or each vendor's usual environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// SupportedVendors lists the vendor names New accepts, sorted.
func SupportedVendors() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider implements llm.Provider over an any-llm backend and a fixed model.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New builds a Provider for the named vendor. vendor must be one of
// [SupportedVendors]; model is the vendor's model identifier.
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" {
		return nil, fmt.Errorf("anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	construct, ok := backends[strings.ToLower(vendor)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported vendor %q; supported: %s",
			vendor, strings.Join(SupportedVendors(), ", "))
	}
	backend, err := construct(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.toParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{Content: choice.Message.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
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
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.toParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		// Tool-call fragments are keyed by their position in each delta;
		// stitch them together until the finish chunk.
		partial := map[int]*types.ToolCall{}
		maxIdx := -1

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}

			for i, tc := range choice.Delta.ToolCalls {
				call := partial[i]
				if call == nil {
					call = &types.ToolCall{}
					partial[i] = call
					if i > maxIdx {
						maxIdx = i
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

		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// CountTokens implements llm.Provider.
// TODO: replace with a real tokenizer (e.g., tiktoken-go) for accurate per-model counting.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		// ~4 chars per token holds roughly across vendors, plus framing.
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) toParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toBackendMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

func toBackendMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// modelRule matches a family of model names to a capability set. pattern is
// either a prefix or substring test depending on contains.
type modelRule struct {
	pattern  string
	contains bool
	caps     types.ModelCapabilities
}

// modelRules is consulted in order; the first hit wins, so more specific
// patterns precede their family catch-alls.
var modelRules = []modelRule{
	// OpenAI chat and reasoning models.
	{pattern: "gpt-4o-mini", caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "gpt-4o", caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "gpt-4-turbo", caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "gpt-4", caps: types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true}},
	{pattern: "gpt-3.5-turbo", caps: types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true}},
	{pattern: "o1-mini", caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536, SupportsStreaming: true}},
	{pattern: "o1", caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "o3-mini", caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true, SupportsStreaming: true}},
	{pattern: "o3", caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},

	// Anthropic Claude.
	{pattern: "claude-3-opus", contains: true, caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "claude", caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},

	// Google Gemini.
	{pattern: "gemini-1.5-pro", contains: true, caps: types.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "gemini-1.5-flash", contains: true, caps: types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "gemini-2.0-flash", contains: true, caps: types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
	{pattern: "gemini", caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true}},
}

func modelCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, rule := range modelRules {
		if rule.contains && strings.Contains(lower, rule.pattern) {
			return rule.caps
		}
		if !rule.contains && strings.HasPrefix(lower, rule.pattern) {
			return rule.caps
		}
	}
	return types.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
		SupportsStreaming:   true,
	}
}
