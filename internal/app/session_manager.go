package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/feedbackd/internal/completion"
	"github.com/MrWong99/feedbackd/internal/config"
	"github.com/MrWong99/feedbackd/internal/finalize"
	"github.com/MrWong99/feedbackd/internal/interview"
	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/internal/session"
	"github.com/MrWong99/feedbackd/internal/transcript"
	"github.com/MrWong99/feedbackd/internal/transcript/phonetic"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
	"github.com/MrWong99/feedbackd/pkg/types"
)

// ErrSessionNotFound is returned for unknown or removed session IDs.
var ErrSessionNotFound = errors.New("app: session not found")

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	User      types.UserDetails
	EventID   string
	EventName string

	// StartedAt is when the session was created.
	StartedAt time.Time
}

// CreateRequest starts a new feedback conversation.
type CreateRequest struct {
	User      types.UserDetails `json:"user_details"`
	EventID   string            `json:"event_id"`
	EventName string            `json:"event_name"`
}

// Validate reports missing fields.
func (r CreateRequest) Validate() error {
	var errs []error
	if r.User.Name == "" {
		errs = append(errs, errors.New("user_details.name is required"))
	}
	if r.EventID == "" {
		errs = append(errs, errors.New("event_id is required"))
	}
	if r.EventName == "" {
		errs = append(errs, errors.New("event_name is required"))
	}
	return errors.Join(errs...)
}

type managedSession struct {
	info SessionInfo
	sess *session.Session
}

// SessionManager owns every live feedback session. Settings that can change
// at runtime (profile, keyterms, terminal delay) apply to sessions created
// after the change. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession
	closed   bool

	profile       interview.Profile
	keyterms      []string
	terminalDelay time.Duration

	// Dependencies injected at construction.
	llm       llm.Provider
	extractor finalize.Extractor
	store     finalize.Store
	strategy  config.CompletionStrategy
	matcher   *phonetic.Matcher
	metrics   *observe.Metrics
	report    finalize.ErrorReporter
	log       *slog.Logger
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// LLM generates replies and empathy prefaces.
	LLM llm.Provider

	Extractor finalize.Extractor
	Store     finalize.Store

	Profile       interview.Profile
	Keyterms      []string
	TerminalDelay time.Duration
	Completion    config.CompletionStrategy

	// Matcher, Metrics, Reporter and Logger are optional.
	Matcher  *phonetic.Matcher
	Metrics  *observe.Metrics
	Reporter finalize.ErrorReporter
	Logger   *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Matcher == nil {
		cfg.Matcher = phonetic.New()
	}
	return &SessionManager{
		sessions:      make(map[string]*managedSession),
		profile:       cfg.Profile,
		keyterms:      cfg.Keyterms,
		terminalDelay: cfg.TerminalDelay,
		llm:           cfg.LLM,
		extractor:     cfg.Extractor,
		store:         cfg.Store,
		strategy:      cfg.Completion,
		matcher:       cfg.Matcher,
		metrics:       cfg.Metrics,
		report:        cfg.Reporter,
		log:           cfg.Logger,
	}
}

// Detector builds the completion detector for a strategy. Unknown and empty
// strategies use phrase and topic matching.
func Detector(s config.CompletionStrategy) completion.Detector {
	switch s {
	case config.CompletionStage:
		return completion.StageDetector{}
	case config.CompletionBoth:
		return completion.AllOf(completion.PhraseTopic{}, completion.StageDetector{})
	default:
		return completion.PhraseTopic{}
	}
}

// Create starts a session for req and returns it.
func (sm *SessionManager) Create(ctx context.Context, req CreateRequest) (*session.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, session.ErrClosed
	}

	id := uuid.NewString()
	log := sm.log.With("session_id", id)
	detector := Detector(sm.strategy)

	opts := []finalize.Option{
		finalize.WithTerminalDelay(sm.terminalDelay),
		finalize.WithMetrics(sm.metrics),
		finalize.WithLogger(log),
	}
	if sm.report != nil {
		opts = append(opts, finalize.WithErrorReporter(sm.report))
	}
	coord := finalize.New(detector, sm.extractor, sm.store, opts...)

	sess := session.New(session.Config{
		ID:          id,
		User:        req.User,
		EventID:     req.EventID,
		EventName:   req.EventName,
		Detector:    detector,
		Coordinator: coord,
		Responder:   interview.NewResponder(sm.llm, sm.profile, sm.metrics),
		Empathizer:  interview.NewEmpathizer(sm.llm, sm.metrics),
		Corrector:   transcript.NewKeytermCorrector(sm.matcher, sm.keyterms),
		Logger:      sm.log,
	})
	sm.sessions[id] = &managedSession{
		info: SessionInfo{
			SessionID: id,
			User:      req.User,
			EventID:   req.EventID,
			EventName: req.EventName,
			StartedAt: time.Now().UTC(),
		},
		sess: sess,
	}
	sm.metrics.ActiveSessions.Add(ctx, 1)

	log.InfoContext(ctx, "session started", "event_id", req.EventID, "user", req.User.Name)
	return sess, nil
}

// Get returns the session with the given ID.
func (sm *SessionManager) Get(id string) (*session.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ms.sess, nil
}

// Info returns the metadata of the session with the given ID.
func (sm *SessionManager) Info(id string) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ms.info, nil
}

// Remove closes the session and forgets it. An in-flight finalization is
// cancelled.
func (sm *SessionManager) Remove(ctx context.Context, id string) error {
	sm.mu.Lock()
	ms, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	ms.sess.Close()
	sm.metrics.ActiveSessions.Add(ctx, -1)
	sm.log.InfoContext(ctx, "session removed", "session_id", id, "phase", ms.sess.Phase())
	return nil
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Sweep removes sessions that have completed or are older than maxAge and
// returns how many were removed.
func (sm *SessionManager) Sweep(ctx context.Context, maxAge time.Duration) int {
	now := time.Now().UTC()
	var stale []string
	sm.mu.Lock()
	for id, ms := range sm.sessions {
		if ms.sess.Phase() == session.PhaseCompleted || now.Sub(ms.info.StartedAt) > maxAge {
			stale = append(stale, id)
		}
	}
	sm.mu.Unlock()

	n := 0
	for _, id := range stale {
		if err := sm.Remove(ctx, id); err == nil {
			n++
		}
	}
	return n
}

// CloseAll closes every session and rejects new ones.
func (sm *SessionManager) CloseAll(ctx context.Context) {
	sm.mu.Lock()
	sm.closed = true
	all := sm.sessions
	sm.sessions = make(map[string]*managedSession)
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, ms := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ms.sess.Close()
		}()
	}
	wg.Wait()
	if len(all) > 0 {
		sm.metrics.ActiveSessions.Add(ctx, -int64(len(all)))
		sm.log.InfoContext(ctx, "sessions closed", "count", len(all))
	}
}

// SetProfile replaces the assistant profile for new sessions.
func (sm *SessionManager) SetProfile(p interview.Profile) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.profile = p
}

// Profile returns the assistant profile used for new sessions.
func (sm *SessionManager) Profile() interview.Profile {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.profile
}

// SetKeyterms replaces the keyterm list for new sessions.
func (sm *SessionManager) SetKeyterms(terms []string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.keyterms = append([]string(nil), terms...)
}

// SetTerminalDelay replaces the terminal delay for new sessions.
func (sm *SessionManager) SetTerminalDelay(d time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.terminalDelay = d
}
