// Package mock is the in-memory test double for llm.Provider. Configure the
// response fields before use, run the code under test, then inspect the
// recorded calls. Safe for concurrent calls; reconfiguring mid-flight is not.
package mock

import (
	"context"
	"sync"

	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/types"
)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CountTokensCall is one recorded CountTokens invocation.
type CountTokensCall struct {
	Messages []types.Message
}

// Provider implements llm.Provider with canned responses. Zero-value
// response fields yield zero results with nil errors; set the *Err fields to
// inject failures.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order on the channel StreamCompletion
	// returns, then the channel closes. StreamErr short-circuits the call
	// instead.
	StreamChunks []llm.Chunk
	StreamErr    error

	// CompleteResponse / CompleteErr are returned verbatim from Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities types.ModelCapabilities

	// Call records, appended in invocation order.
	StreamCalls           []StreamCall
	CompleteCalls         []CompleteCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{
		Messages: append([]types.Message(nil), messages...),
	})
	return p.TokenCount, p.CountTokensErr
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset drops all recorded calls, keeping the configured responses.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}
