package app

import (
	"context"

	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
	"github.com/MrWong99/feedbackd/pkg/types"
)

const kindLLM = "llm"

// instrumentedLLM counts requests and errors of one named provider.
type instrumentedLLM struct {
	name    string
	inner   llm.Provider
	metrics *observe.Metrics
}

var _ llm.Provider = (*instrumentedLLM)(nil)

// InstrumentLLM wraps p so every call is recorded on the provider request
// and error counters under name.
func InstrumentLLM(name string, p llm.Provider, m *observe.Metrics) llm.Provider {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &instrumentedLLM{name: name, inner: p, metrics: m}
}

func (p *instrumentedLLM) record(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, p.name, kindLLM)
	}
	p.metrics.RecordProviderRequest(ctx, p.name, kindLLM, status)
}

func (p *instrumentedLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch, err := p.inner.StreamCompletion(ctx, req)
	if err != nil {
		p.record(ctx, err)
		return nil, err
	}

	// Stream errors arrive in-band; relay the chunks and record the outcome
	// once the stream ends.
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var streamErr error
		for c := range ch {
			if c.FinishReason == "error" {
				streamErr = &llm.StreamError{Message: c.Text}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				p.record(ctx, ctx.Err())
				return
			}
		}
		p.record(ctx, streamErr)
	}()
	return out, nil
}

func (p *instrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.inner.Complete(ctx, req)
	p.record(ctx, err)
	return resp, err
}

func (p *instrumentedLLM) Capabilities() types.ModelCapabilities {
	return p.inner.Capabilities()
}
