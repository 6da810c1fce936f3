package finalize_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/feedbackd/internal/completion"
	"github.com/MrWong99/feedbackd/internal/finalize"
	"github.com/MrWong99/feedbackd/pkg/types"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	fb    types.StructuredFeedback
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, _ []types.Message) (types.StructuredFeedback, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.StructuredFeedback{}, ctx.Err()
		}
	}
	return f.fb, f.err
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	records []types.FeedbackRecord
	err     error
}

func (s *fakeStore) Save(_ context.Context, rec types.FeedbackRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if s.err != nil {
		return "", s.err
	}
	return "fb-1", nil
}

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func rating(n int) *int { return &n }

func analysis() types.StructuredFeedback {
	return types.StructuredFeedback{
		Sentiment:     types.SentimentPositive,
		Rating:        rating(9),
		Suggestions:   []string{"improve the venue"},
		GenAIInterest: true,
		KeyPoints:     []string{"hands-on sessions"},
	}
}

// completeTranscript covers all five topics and ends with the closing phrase.
func completeTranscript() []types.Message {
	return []types.Message{
		{Role: types.RoleAssistant, Content: "Hi Asha! What do you do for work?"},
		{Role: types.RoleUser, Content: "I'm a teacher"},
		{Role: types.RoleAssistant, Content: "How would you rate the event from 1 to 10?"},
		{Role: types.RoleUser, Content: "9"},
		{Role: types.RoleAssistant, Content: "What did you enjoy most?"},
		{Role: types.RoleUser, Content: "The hands-on sessions"},
		{Role: types.RoleAssistant, Content: "Anything we could do better?"},
		{Role: types.RoleUser, Content: "maybe you could improve the venue"},
		{Role: types.RoleAssistant, Content: "Interested in our GenAI Launchpad?"},
		{Role: types.RoleUser, Content: "Yes!"},
		{Role: types.RoleAssistant, Content: completion.CanonicalPhrase},
	}
}

func request(msgs []types.Message) finalize.Request {
	return finalize.Request{
		Messages:  msgs,
		User:      types.UserDetails{Name: "Asha", Email: "asha@example.com"},
		EventID:   "evt-42",
		EventName: "AI Summit",
	}
}

func TestTryFinalize_Success(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{fb: analysis()}
	store := &fakeStore{}
	c := finalize.New(completion.PhraseTopic{}, ext, store, finalize.WithTerminalDelay(0))

	res, err := c.TryFinalize(context.Background(), request(completeTranscript()))
	if err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}
	if !res.Fired {
		t.Fatal("Fired = false, want true")
	}
	if res.Record.ID != "fb-1" {
		t.Errorf("ID = %q, want %q", res.Record.ID, "fb-1")
	}
	if res.Record.EventName != "AI Summit" || res.Record.Email != "asha@example.com" {
		t.Errorf("metadata not merged: %+v", res.Record)
	}
	if res.Record.Sentiment != types.SentimentPositive || *res.Record.Rating != 9 {
		t.Errorf("analysis not merged: %+v", res.Record)
	}
	if got := len(res.Record.Messages); got != len(completeTranscript()) {
		t.Errorf("messages = %d, want %d", got, len(completeTranscript()))
	}
	if c.State() != finalize.StatePersisted {
		t.Errorf("State() = %v, want persisted", c.State())
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after successful save")
	}
}

func TestTryFinalize_NotCompleteHasNoSideEffects(t *testing.T) {
	t.Parallel()

	msgs := completeTranscript()
	// Drop the suggestions exchange.
	msgs = append(msgs[:6:6], msgs[8:]...)

	ext := &fakeExtractor{fb: analysis()}
	store := &fakeStore{}
	c := finalize.New(completion.PhraseTopic{}, ext, store, finalize.WithTerminalDelay(0))

	res, err := c.TryFinalize(context.Background(), request(msgs))
	if err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}
	if res.Fired {
		t.Error("fired without the suggestions topic")
	}
	if c.Finalized() {
		t.Error("latch set without firing")
	}
	if ext.Calls() != 0 || store.Calls() != 0 {
		t.Errorf("extract calls = %d, save calls = %d, want 0 and 0", ext.Calls(), store.Calls())
	}
	if c.State() != finalize.StateCollecting {
		t.Errorf("State() = %v, want collecting", c.State())
	}
}

func TestTryFinalize_RepeatedCallsFireOnce(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{fb: analysis()}
	store := &fakeStore{}
	c := finalize.New(completion.PhraseTopic{}, ext, store, finalize.WithTerminalDelay(0))

	fired := 0
	for range 5 {
		res, err := c.TryFinalize(context.Background(), request(completeTranscript()))
		if err != nil {
			t.Fatalf("TryFinalize: %v", err)
		}
		if res.Fired {
			fired++
		}
	}
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
	if ext.Calls() != 1 || store.Calls() != 1 {
		t.Errorf("extract calls = %d, save calls = %d, want 1 and 1", ext.Calls(), store.Calls())
	}
}

// TestTryFinalize_ConcurrentCallsFireOnce holds extraction open while a burst
// of callers arrive, so every caller observes the in-flight window.
func TestTryFinalize_ConcurrentCallsFireOnce(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	ext := &fakeExtractor{fb: analysis(), gate: gate}
	store := &fakeStore{}
	c := finalize.New(completion.PhraseTopic{}, ext, store, finalize.WithTerminalDelay(0))

	const callers = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		fired int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := c.TryFinalize(context.Background(), request(completeTranscript()))
			if err != nil {
				t.Errorf("TryFinalize: %v", err)
			}
			if res.Fired {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	close(start)

	// Wait until the winning caller is inside Extract.
	deadline := time.After(2 * time.Second)
	for ext.Calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("extraction never started")
		case <-time.After(time.Millisecond):
		}
	}
	if !c.Finalized() {
		t.Error("latch not set while extraction in flight")
	}
	close(gate)
	wg.Wait()

	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
	if ext.Calls() != 1 {
		t.Errorf("extract calls = %d, want 1", ext.Calls())
	}
	if store.Calls() != 1 {
		t.Errorf("save calls = %d, want 1", store.Calls())
	}
}

func TestTryFinalize_ExtractionFailure(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{err: errors.New("model unavailable")}
	store := &fakeStore{}

	var (
		mu       sync.Mutex
		reported []error
	)
	c := finalize.New(completion.PhraseTopic{}, ext, store,
		finalize.WithTerminalDelay(0),
		finalize.WithErrorReporter(func(_ context.Context, err error, _ map[string]any) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}),
	)

	res, err := c.TryFinalize(context.Background(), request(completeTranscript()))
	if !errors.Is(err, finalize.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if !res.Fired || res.Analysis != nil {
		t.Errorf("Result = %+v, want fired without analysis", res)
	}
	if store.Calls() != 0 {
		t.Errorf("save calls = %d, want 0", store.Calls())
	}
	if c.State() != finalize.StateFailed || !c.Finalized() {
		t.Errorf("State() = %v, Finalized() = %v; want failed and latched", c.State(), c.Finalized())
	}

	// No retry on the next update.
	if res, err := c.TryFinalize(context.Background(), request(completeTranscript())); res.Fired || err != nil {
		t.Errorf("second call = %+v, %v; want no-op", res, err)
	}
	if ext.Calls() != 1 {
		t.Errorf("extract calls = %d, want 1", ext.Calls())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Errorf("reported %d errors, want 1", len(reported))
	}
	select {
	case <-c.Done():
		t.Error("Done closed after a failure")
	default:
	}
}

func TestTryFinalize_PersistFailureKeepsAnalysis(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{fb: analysis()}
	store := &fakeStore{err: errors.New("disk full")}
	c := finalize.New(completion.PhraseTopic{}, ext, store, finalize.WithTerminalDelay(0))

	res, err := c.TryFinalize(context.Background(), request(completeTranscript()))
	if !errors.Is(err, finalize.ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if res.Analysis == nil || res.Analysis.Sentiment != types.SentimentPositive {
		t.Errorf("Analysis = %+v, want the extracted analysis", res.Analysis)
	}
	if res.Record.ID != "" {
		t.Errorf("ID = %q, want empty", res.Record.ID)
	}

	got, gotErr := c.Result()
	if got.Analysis == nil || !errors.Is(gotErr, finalize.ErrPersist) {
		t.Errorf("Result() = %+v, %v; want stored analysis and ErrPersist", got, gotErr)
	}
	if c.State() != finalize.StateFailed {
		t.Errorf("State() = %v, want failed", c.State())
	}
}

func TestTryFinalize_CancelledSession(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{fb: analysis(), gate: make(chan struct{})}
	store := &fakeStore{}
	c := finalize.New(completion.PhraseTopic{}, ext, store, finalize.WithTerminalDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.TryFinalize(ctx, request(completeTranscript()))
		errCh <- err
	}()
	for ext.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, finalize.ErrExtraction) {
			t.Errorf("err = %v, want ErrExtraction wrapping context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TryFinalize did not return after cancel")
	}
}

func TestTerminalDelay(t *testing.T) {
	t.Parallel()

	c := finalize.New(completion.PhraseTopic{}, &fakeExtractor{fb: analysis()}, &fakeStore{},
		finalize.WithTerminalDelay(50*time.Millisecond))

	if _, err := c.TryFinalize(context.Background(), request(completeTranscript())); err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}
	select {
	case <-c.Done():
		t.Fatal("Done closed before the terminal delay")
	default:
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after the terminal delay")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[finalize.State]string{
		finalize.StateCollecting: "collecting",
		finalize.StateExtracting: "extracting",
		finalize.StatePersisted:  "persisted",
		finalize.StateFailed:     "failed",
		finalize.State(9):        "State(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

// Not parallel: swaps the global tracer provider.
func TestTryFinalize_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	store := &fakeStore{err: errors.New("disk full")}
	c := finalize.New(completion.PhraseTopic{}, &fakeExtractor{fb: analysis()}, store, finalize.WithTerminalDelay(0))
	if _, err := c.TryFinalize(context.Background(), request(completeTranscript())); err == nil {
		t.Fatal("expected persist error")
	}

	status := map[string]codes.Code{}
	for _, s := range exp.GetSpans() {
		status[s.Name] = s.Status.Code
	}
	want := map[string]codes.Code{
		"finalize":         codes.Error,
		"finalize.extract": codes.Unset,
		"finalize.persist": codes.Error,
	}
	for name, code := range want {
		got, ok := status[name]
		if !ok {
			t.Errorf("span %q not exported", name)
			continue
		}
		if got != code {
			t.Errorf("span %q status = %v, want %v", name, got, code)
		}
	}
}
