// Package finalize runs the extract-and-persist sequence of a feedback
// session at most once.
//
// A [Coordinator] owns a one-way latch. [Coordinator.TryFinalize] may be
// called after every transcript update, from any number of goroutines; the
// first call that sees a complete conversation sets the latch before it
// starts extraction, so no concurrent caller can start a second extraction.
// Failures are reported to the caller and never retried: the latch stays
// set and the session has to be finished by hand.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/feedbackd/internal/completion"
	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/pkg/types"
)

// DefaultTerminalDelay is how long after a successful save the terminal
// transition fires, giving the client time to show the closing message.
const DefaultTerminalDelay = 2 * time.Second

var (
	// ErrExtraction wraps failures of the structured extraction call.
	ErrExtraction = errors.New("finalize: extraction failed")

	// ErrPersist wraps failures of the store. The analysis is still
	// available in the [Result].
	ErrPersist = errors.New("finalize: persist failed")
)

// Extractor turns a finished conversation into structured feedback.
type Extractor interface {
	Extract(ctx context.Context, msgs []types.Message) (types.StructuredFeedback, error)
}

// Store persists a record and returns its identifier.
type Store interface {
	Save(ctx context.Context, rec types.FeedbackRecord) (string, error)
}

// State is the coordinator's lifecycle position.
type State int32

const (
	// StateCollecting is the initial state: the conversation is ongoing.
	StateCollecting State = iota

	// StateExtracting means the latch is set and extract or save is in flight.
	StateExtracting

	// StatePersisted is terminal: the record was saved.
	StatePersisted

	// StateFailed is terminal: extraction or save failed.
	StateFailed
)

// String returns the lowercase name of s.
func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateExtracting:
		return "extracting"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Request carries everything a finalize attempt needs.
type Request struct {
	// Messages is the full merged transcript, including the latest
	// assistant message.
	Messages []types.Message

	// LatestAssistant is the text of the assistant message that triggered
	// this attempt. Empty means the last assistant message in Messages.
	LatestAssistant string

	User      types.UserDetails
	EventID   string
	EventName string
}

// Result describes what a fired attempt produced.
type Result struct {
	// Fired is true only for the one call that ran the sequence.
	Fired bool

	// Analysis is set once extraction succeeded, even when the save failed.
	Analysis *types.StructuredFeedback

	// Record is the record that was (or would have been) saved. Its ID is
	// set only after a successful save.
	Record types.FeedbackRecord
}

// ErrorReporter forwards failures to an error tracker.
type ErrorReporter func(ctx context.Context, err error, extras map[string]any)

// Option is a functional option for [New].
type Option func(*Coordinator)

// WithTerminalDelay sets the delay between a successful save and the
// closing of [Coordinator.Done]. Zero closes it immediately.
func WithTerminalDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.terminalDelay = d
	}
}

// WithMetrics records completion checks and finalize outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithErrorReporter sends extraction and persist failures to r.
func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Coordinator) {
		c.report = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// Coordinator owns the finalize latch of one session. It is safe for
// concurrent use.
type Coordinator struct {
	detector  completion.Detector
	extractor Extractor
	store     Store

	terminalDelay time.Duration
	metrics       *observe.Metrics
	report        ErrorReporter
	log           *slog.Logger

	finalized atomic.Bool
	state     atomic.Int32

	mu     sync.Mutex
	result Result
	err    error
	timer  *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a coordinator in [StateCollecting].
func New(detector completion.Detector, extractor Extractor, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		detector:      detector,
		extractor:     extractor,
		store:         store,
		terminalDelay: DefaultTerminalDelay,
		log:           slog.Default(),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TryFinalize runs the extract-and-persist sequence if the conversation is
// complete and no earlier call has already fired. Calls that do not fire
// return a zero [Result] and a nil error.
//
// ctx should be the session's lifetime context: cancelling it is the only
// way to abandon an in-flight extraction or save.
func (c *Coordinator) TryFinalize(ctx context.Context, req Request) (Result, error) {
	if c.finalized.Load() {
		return Result{}, nil
	}

	a := completion.Assess(c.detector, req.Messages, req.LatestAssistant)
	if c.metrics != nil {
		c.metrics.RecordCompletionCheck(ctx, a.Complete)
	}
	if !a.Complete {
		if a.CompletionSignalSeen {
			c.log.InfoContext(ctx, "completion phrase seen but topics missing",
				"missing", a.Topics.Missing(), "user_messages", a.UserMessages)
		}
		return Result{}, nil
	}

	// The latch must be set before any call that can block.
	if !c.finalized.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	c.state.Store(int32(StateExtracting))
	if !a.EnoughExchanges {
		c.log.WarnContext(ctx, "finalizing with few exchanges", "user_messages", a.UserMessages)
	}
	c.log.InfoContext(ctx, "completion detected", "assessment", a)

	start := time.Now()
	res, err := c.run(ctx, req)
	c.finish(ctx, res, err, time.Since(start))
	return res, err
}

func (c *Coordinator) run(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := observe.StartSpan(ctx, "finalize", trace.WithAttributes(observe.EventIDKey.String(req.EventID)))
	defer func() { observe.EndSpan(span, err) }()
	res.Fired = true

	ectx, espan := observe.StartSpan(ctx, "finalize.extract")
	fb, err := c.extractor.Extract(ectx, req.Messages)
	observe.EndSpan(espan, err)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	res.Analysis = &fb
	res.Record = types.NewFeedbackRecord(req.User, req.EventID, req.EventName, req.Messages, fb)

	pctx, pspan := observe.StartSpan(ctx, "finalize.persist")
	id, err := c.store.Save(pctx, res.Record)
	if err == nil {
		pspan.SetAttributes(observe.FeedbackIDKey.String(id))
	}
	observe.EndSpan(pspan, err)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	res.Record.ID = id
	return res, nil
}

func (c *Coordinator) finish(ctx context.Context, res Result, err error, took time.Duration) {
	outcome := observe.OutcomePersisted
	switch {
	case errors.Is(err, ErrExtraction):
		outcome = observe.OutcomeExtractionFailed
	case errors.Is(err, ErrPersist):
		outcome = observe.OutcomePersistFailed
	}
	if c.metrics != nil {
		c.metrics.RecordFinalize(ctx, outcome, took)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = res
	c.err = err

	if err != nil {
		c.state.Store(int32(StateFailed))
		c.log.ErrorContext(ctx, "finalize failed", "outcome", outcome, "err", err, "duration", took)
		if c.report != nil {
			c.report(ctx, err, map[string]any{
				"outcome":      outcome,
				"has_analysis": res.Analysis != nil,
				"event_id":     res.Record.EventID,
			})
		}
		return
	}

	c.state.Store(int32(StatePersisted))
	c.log.InfoContext(ctx, "feedback persisted", "feedback_id", res.Record.ID, "duration", took)
	if c.terminalDelay <= 0 {
		c.closeDone()
		return
	}
	c.timer = time.AfterFunc(c.terminalDelay, c.closeDone)
}

func (c *Coordinator) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Finalized reports whether the latch is set.
func (c *Coordinator) Finalized() bool {
	return c.finalized.Load()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Result returns the outcome of the fired attempt and its error. Both are
// zero until a fired attempt has finished.
func (c *Coordinator) Result() (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Done is closed when the terminal transition fires, after a successful save
// and the terminal delay. It is never closed after a failure.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Stop cancels a pending terminal transition.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}
