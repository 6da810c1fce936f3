// Package session owns the dialogue state of one feedback conversation.
//
// A [Session] keeps the per-channel segment lists, rebuilds the merged
// transcript on every change, asks the responder for the next assistant turn
// and hands the transcript to the finalization coordinator after each
// update. Finalization runs in the background under the session's lifetime
// context, so transcript updates never wait for extraction or storage.
//
// A session is driven either by typed chat ([Session.SendUserText]) or by
// segment snapshots from a speech-to-text source ([Session.ReplaceSegments]).
// A snapshot replaces the whole list of its channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/feedbackd/internal/completion"
	"github.com/MrWong99/feedbackd/internal/finalize"
	"github.com/MrWong99/feedbackd/internal/interview"
	"github.com/MrWong99/feedbackd/internal/transcript"
	"github.com/MrWong99/feedbackd/pkg/types"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// ErrEmptyMessage is returned by [Session.SendUserText] for blank text.
var ErrEmptyMessage = errors.New("session: empty message")

// PhaseCompleted is reported by [Session.Phase] after the terminal
// transition. Earlier phases are the coordinator's state names.
const PhaseCompleted = "completed"

// Config wires a session to its collaborators.
type Config struct {
	ID        string
	User      types.UserDetails
	EventID   string
	EventName string

	// Detector must be the detector the Coordinator was built with; it is
	// used for state snapshots.
	Detector    completion.Detector
	Coordinator *finalize.Coordinator
	Responder   *interview.Responder

	// Empathizer, Corrector and Logger are optional.
	Empathizer *interview.Empathizer
	Corrector  *transcript.KeytermCorrector
	Logger     *slog.Logger
}

// Session is safe for concurrent use. User turns are serialised; snapshot
// updates may arrive at any time.
type Session struct {
	cfg   Config
	log   *slog.Logger
	start time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// turnMu serialises SendUserText calls.
	turnMu sync.Mutex

	mu        sync.Mutex
	agent     []types.Segment
	user      []types.Segment
	lastStamp int64
	seq       int
	greeting  string

	completed atomic.Bool
	closed    atomic.Bool
	hub       hub
}

// New creates a session, records the greeting as the first assistant turn
// and starts watching for the terminal transition.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Detector == nil {
		cfg.Detector = completion.PhraseTopic{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		log:    cfg.Logger.With("session_id", cfg.ID),
		start:  time.Now(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.greeting = cfg.Responder.Profile().Greeting(cfg.User.Name, cfg.EventName)
	s.mu.Lock()
	s.appendLocked(types.ChannelAgent, s.greeting)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watchTerminal()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Greeting returns the first assistant message.
func (s *Session) Greeting() string { return s.greeting }

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// stamp returns a receive time in milliseconds since session start that is
// strictly greater than every earlier stamp. Must be called with s.mu held.
func (s *Session) stamp() int64 {
	t := time.Since(s.start).Milliseconds()
	if t <= s.lastStamp {
		t = s.lastStamp + 1
	}
	s.lastStamp = t
	return t
}

// appendLocked must be called with s.mu held.
func (s *Session) appendLocked(ch types.Channel, text string) {
	s.seq++
	seg := types.Segment{
		ID:            fmt.Sprintf("%s-%d", ch, s.seq),
		Channel:       ch,
		Text:          text,
		FirstReceived: s.stamp(),
	}
	if ch == types.ChannelAgent {
		s.agent = append(s.agent, seg)
	} else {
		s.user = append(s.user, seg)
	}
}

// Transcript returns the merged conversation.
func (s *Session) Transcript() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transcript.MergeSources(s.agent, s.user)
}

// SendUserText records a typed user message, generates the assistant reply
// and triggers a completion check. onDelta, when non-nil, receives reply
// fragments as they stream in.
func (s *Session) SendUserText(ctx context.Context, text string, onDelta func(string)) (interview.Reply, error) {
	if s.closed.Load() {
		return interview.Reply{}, ErrClosed
	}
	if isBlank(text) {
		return interview.Reply{}, ErrEmptyMessage
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	// Typed text is corrected too; speech-to-text is not the only source of
	// misspelled product names.
	corrected, _ := s.cfg.Corrector.Correct(text)

	s.mu.Lock()
	s.appendLocked(types.ChannelUser, corrected)
	msgs := transcript.MergeSources(s.agent, s.user)
	s.mu.Unlock()

	// Both the request and the session can abandon the turn.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	preface := s.empathize(ctx, corrected, msgs)

	reply, err := s.cfg.Responder.Reply(ctx, interview.Turn{
		Messages:  msgs,
		UserName:  s.cfg.User.Name,
		EventName: s.cfg.EventName,
	}, func(d string) {
		s.hub.publish(Event{Type: EventDelta, Delta: d})
		if onDelta != nil {
			onDelta(d)
		}
	})
	if err != nil {
		s.log.ErrorContext(ctx, "assistant reply failed", "err", err)
		s.hub.publish(Event{Type: EventError, Error: err.Error()})
		return interview.Reply{}, fmt.Errorf("session: reply: %w", err)
	}
	if preface != "" {
		reply.Text = preface + " " + reply.Text
	}

	s.mu.Lock()
	s.appendLocked(types.ChannelAgent, reply.Text)
	s.mu.Unlock()

	s.hub.publish(Event{Type: EventReply, Reply: &reply})
	s.evaluate(reply.Text)
	return reply, nil
}

// empathize returns an empathetic preface for negative answers. Failures are
// logged and yield no preface.
func (s *Session) empathize(ctx context.Context, text string, msgs []types.Message) string {
	if s.cfg.Empathizer == nil {
		return ""
	}
	// The rating question is asked at the rating_request stage, so the
	// answer is the user's third message.
	ratingAnswer := completion.StageFor(types.CountRole(msgs, types.RoleUser)-1) == completion.StageRatingRequest
	e, err := s.cfg.Empathizer.Respond(ctx, text, ratingAnswer)
	if err != nil {
		s.log.WarnContext(ctx, "empathy preface failed", "err", err)
		return ""
	}
	return e.Response
}

// ReplaceSegments installs a snapshot of one channel's segments, as produced
// by a speech-to-text source, and triggers a completion check. User segments
// are keyterm-corrected first.
func (s *Session) ReplaceSegments(ch types.Channel, segs []types.Segment) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !ch.IsValid() {
		return fmt.Errorf("session: invalid channel %q", ch)
	}
	snapshot := make([]types.Segment, 0, len(segs))
	for _, seg := range segs {
		seg.Channel = ch
		snapshot = append(snapshot, seg)
	}
	if ch == types.ChannelUser {
		snapshot = s.cfg.Corrector.CorrectSegments(snapshot)
	}

	s.mu.Lock()
	if ch == types.ChannelAgent {
		s.agent = snapshot
	} else {
		s.user = snapshot
	}
	for _, seg := range snapshot {
		s.lastStamp = max(s.lastStamp, seg.FirstReceived)
	}
	s.mu.Unlock()

	s.evaluate("")
	return nil
}

// evaluate hands the current transcript to the coordinator in the
// background. latest is the assistant text that triggered the check; empty
// means the last assistant message of the transcript.
func (s *Session) evaluate(latest string) {
	if s.cfg.Coordinator.Finalized() {
		return
	}
	s.mu.Lock()
	// closed is set under s.mu so no goroutine is added once Close waits.
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	req := finalize.Request{
		Messages:        transcript.MergeSources(s.agent, s.user),
		LatestAssistant: latest,
		User:            s.cfg.User,
		EventID:         s.cfg.EventID,
		EventName:       s.cfg.EventName,
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		res, err := s.cfg.Coordinator.TryFinalize(s.ctx, req)
		if !res.Fired {
			return
		}
		if err != nil {
			s.hub.publish(Event{Type: EventError, Error: err.Error()})
		}
		snap := s.Snapshot()
		s.hub.publish(Event{Type: EventState, State: &snap})
	}()
}

func (s *Session) watchTerminal() {
	defer s.wg.Done()
	select {
	case <-s.cfg.Coordinator.Done():
		s.completed.Store(true)
		s.log.Info("session completed")
		snap := s.Snapshot()
		s.hub.publish(Event{Type: EventComplete, State: &snap})
	case <-s.ctx.Done():
	}
}

// Phase returns "collecting", "extracting", "persisted", "failed" or
// [PhaseCompleted].
func (s *Session) Phase() string {
	if s.completed.Load() {
		return PhaseCompleted
	}
	return s.cfg.Coordinator.State().String()
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID                   string                    `json:"session_id"`
	Phase                string                    `json:"phase"`
	Messages             []types.Message           `json:"messages"`
	Stage                completion.Stage          `json:"stage"`
	TopicsCovered        []types.TopicTag          `json:"topics_covered"`
	CompletionSignalSeen bool                      `json:"completion_signal_seen"`
	CheckCompletion      bool                      `json:"check_completion"`
	Finalized            bool                      `json:"finalized"`
	Analysis             *types.StructuredFeedback `json:"analysis,omitempty"`
	Record               *types.FeedbackRecord     `json:"record,omitempty"`
	Error                string                    `json:"error,omitempty"`
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	msgs := s.Transcript()
	a := completion.Assess(s.cfg.Detector, msgs, "")
	snap := Snapshot{
		ID:                   s.cfg.ID,
		Phase:                s.Phase(),
		Messages:             msgs,
		Stage:                a.Stage,
		TopicsCovered:        a.Topics.List(),
		CompletionSignalSeen: a.CompletionSignalSeen,
		CheckCompletion:      a.EnoughExchanges,
		Finalized:            s.cfg.Coordinator.Finalized(),
	}
	res, err := s.cfg.Coordinator.Result()
	if res.Fired {
		snap.Analysis = res.Analysis
		if res.Record.ID != "" {
			rec := res.Record
			snap.Record = &rec
		}
	}
	if err != nil {
		snap.Error = err.Error()
	}
	return snap
}

// Subscribe returns a channel of session events and a function that ends the
// subscription. Slow subscribers lose events rather than stalling the
// session.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.hub.subscribe()
}

// Close cancels in-flight replies and finalization, stops a pending
// terminal transition and waits for background work. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.cancel()
	s.cfg.Coordinator.Stop()
	s.wg.Wait()
	s.hub.close()
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
