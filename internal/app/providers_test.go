package app_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/feedbackd/internal/app"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
	"github.com/MrWong99/feedbackd/pkg/provider/llm/mock"
)

func counter(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestInstrumentLLM(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	inner := &mock.Provider{
		StreamChunks:     []llm.Chunk{{Text: "hi"}, {Text: "rate limited", FinishReason: "error"}},
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	}
	p := app.InstrumentLLM("openai", inner, m)

	if _, err := p.Complete(ctx, llm.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	ch, err := p.StreamCompletion(ctx, llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if _, err := llm.Collect(ch, nil); err == nil {
		t.Fatal("expected stream error")
	}

	inner.CompleteErr = errors.New("boom")
	inner.CompleteResponse = nil
	if _, err := p.Complete(ctx, llm.CompletionRequest{}); err == nil {
		t.Fatal("expected Complete error")
	}

	if got := counter(t, reader, "feedbackd.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := counter(t, reader, "feedbackd.provider.requests", "status", "error"); got != 2 {
		t.Errorf("error requests = %d, want 2", got)
	}
	if got := counter(t, reader, "feedbackd.provider.errors", "provider", "openai"); got != 2 {
		t.Errorf("provider errors = %d, want 2", got)
	}
}
