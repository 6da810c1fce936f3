package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/feedbackd/internal/feedback"
	"github.com/MrWong99/feedbackd/internal/finalize"
	"github.com/MrWong99/feedbackd/internal/health"
	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/internal/session"
	"github.com/MrWong99/feedbackd/pkg/types"
)

// maxBodyBytes bounds request bodies. A full transcript fits comfortably.
const maxBodyBytes = 1 << 20

// headerCheckCompletion reports whether the reply ended with the closing phrase.
const headerCheckCompletion = "X-Check-Completion"

// Sources of persisted feedback, recorded on the feedback_saved counter.
const (
	sourceDirect = "direct"
	sourceSave   = "save_endpoint"
)

// ServerConfig holds the dependencies of the HTTP API.
type ServerConfig struct {
	Sessions  *SessionManager
	Extractor finalize.Extractor
	Store     feedback.Store
	Events    feedback.EventSource
	Health    *health.Handler

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler

	// CORSOrigin is sent as Access-Control-Allow-Origin when non-empty.
	CORSOrigin string

	Logger *slog.Logger
}

// Server serves the feedback HTTP and WebSocket API.
type Server struct {
	cfg ServerConfig
	log *slog.Logger
	now func() time.Time

	mu     sync.RWMutex
	events feedback.EventSource
}

// NewServer returns a server for cfg.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Events == nil {
		cfg.Events = feedback.StaticEvents(nil)
	}
	return &Server{cfg: cfg, log: cfg.Logger, now: time.Now, events: cfg.Events}
}

// SetEvents replaces the event source, e.g. after a configuration reload.
func (s *Server) SetEvents(e feedback.EventSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = e
}

func (s *Server) eventSource() feedback.EventSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events
}

// Handler returns the routed handler wrapped in CORS, panic recovery and the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleMessage)
	mux.HandleFunc("PUT /api/sessions/{id}/segments", s.handleSegments)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	mux.HandleFunc("POST /api/analyze-feedback", s.handleAnalyze)
	mux.HandleFunc("POST /api/save-feedback", s.handleSaveFeedback)
	mux.HandleFunc("GET /api/events", s.handlePastEvents)
	mux.HandleFunc("GET /api/events/upcoming", s.handleUpcomingEvents)
	mux.HandleFunc("GET /api/interview-info", s.handleInterviewInfo)

	s.cfg.Health.Register(mux)
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}

	return s.cors(observe.Recover(observe.Middleware(s.cfg.Metrics)(mux)))
}

// ─── Sessions ────────────────────────────────────────────────────────────────

type createSessionResponse struct {
	SessionID string           `json:"session_id"`
	Greeting  string           `json:"greeting"`
	State     session.Snapshot `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.cfg.Sessions.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID(),
		Greeting:  sess.Greeting(),
		State:     sess.Snapshot(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Sessions.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	Reply string           `json:"reply"`
	Stage string           `json:"stage"`
	State session.Snapshot `json:"state"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := sess.SendUserText(r.Context(), req.Content, nil)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	w.Header().Set(headerCheckCompletion, strconv.FormatBool(reply.CheckCompletion))
	writeJSON(w, http.StatusOK, messageResponse{
		Reply: reply.Text,
		Stage: string(reply.Stage),
		State: sess.Snapshot(),
	})
}

type segmentsRequest struct {
	Channel  types.Channel   `json:"channel"`
	Segments []types.Segment `json:"segments"`
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req segmentsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Channel.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid channel %q", req.Channel))
		return
	}
	if err := sess.ReplaceSegments(req.Channel, req.Segments); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// clientFrame is a message sent by a WebSocket client.
type clientFrame struct {
	// Type is "user_text" or "segments".
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Channel  types.Channel   `json:"channel,omitempty"`
	Segments []types.Segment `json:"segments,omitempty"`
}

const (
	frameUserText = "user_text"
	frameSegments = "segments"
)

// handleWebSocket streams session events to the client and accepts user text
// and segment snapshots. The first server frame is the current state.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	snap := sess.Snapshot()
	if err := wsjson.Write(ctx, conn, session.Event{Type: session.EventState, State: &snap}); err != nil {
		return
	}

	go func() {
		defer cancel()
		s.readFrames(ctx, conn, sess)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

// readFrames handles client frames until the connection fails. Replies and
// finalization events reach the client through the session subscription;
// a state frame follows every handled client frame.
func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		var f clientFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.DebugContext(ctx, "websocket read failed", "session_id", sess.ID(), "err", err)
			}
			return
		}

		var err error
		switch f.Type {
		case frameUserText:
			_, err = sess.SendUserText(ctx, f.Content, nil)
		case frameSegments:
			err = sess.ReplaceSegments(f.Channel, f.Segments)
		default:
			err = fmt.Errorf("unknown frame type %q", f.Type)
		}

		if err != nil {
			if writeErr := wsjson.Write(ctx, conn, session.Event{Type: session.EventError, Error: err.Error()}); writeErr != nil {
				return
			}
			if errors.Is(err, session.ErrClosed) {
				return
			}
			continue
		}
		snap := sess.Snapshot()
		if err := wsjson.Write(ctx, conn, session.Event{Type: session.EventState, State: &snap}); err != nil {
			return
		}
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	switch origin := s.cfg.CORSOrigin; origin {
	case "":
		return nil
	case "*":
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	default:
		host := origin
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			host = u.Host
		}
		return &websocket.AcceptOptions{OriginPatterns: []string{host}}
	}
}

// ─── Feedback ────────────────────────────────────────────────────────────────

type feedbackResponse struct {
	Success    bool                      `json:"success"`
	Analysis   *types.StructuredFeedback `json:"analysis,omitempty"`
	FeedbackID string                    `json:"feedback_id"`
	Message    string                    `json:"message,omitempty"`
}

// handleFeedback stores a record that was analysed elsewhere.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var rec types.FeedbackRecord
	if !s.decode(w, r, &rec) {
		return
	}
	rec.ID = ""
	if rec.EventName == "" {
		writeError(w, http.StatusBadRequest, "event_name is required")
		return
	}
	if err := feedback.Validate(rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.cfg.Store.Save(r.Context(), rec)
	if err != nil {
		s.internalError(w, r, "save feedback", err)
		return
	}
	s.cfg.Metrics.RecordFeedbackSaved(r.Context(), sourceDirect)
	writeJSON(w, http.StatusCreated, feedbackResponse{
		Success:    true,
		FeedbackID: id,
		Message:    "Feedback saved successfully",
	})
}

type analyzeRequest struct {
	Messages []types.Message `json:"messages"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	msgs := conversation(req.Messages)
	if len(msgs) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	fb, err := s.cfg.Extractor.Extract(r.Context(), msgs)
	if err != nil {
		s.upstreamError(w, r, "analyze feedback", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": fb})
}

type saveFeedbackRequest struct {
	Messages  []types.Message   `json:"messages"`
	User      types.UserDetails `json:"user_details"`
	EventID   string            `json:"event_id"`
	EventName string            `json:"event_name"`
}

func (r saveFeedbackRequest) validate() error {
	var errs []error
	if len(r.Messages) == 0 {
		errs = append(errs, errors.New("messages are required"))
	}
	if r.User.Name == "" && r.User.Email == "" {
		errs = append(errs, errors.New("user_details are required"))
	}
	if r.EventID == "" {
		errs = append(errs, errors.New("event_id is required"))
	}
	if r.EventName == "" {
		errs = append(errs, errors.New("event_name is required"))
	}
	return errors.Join(errs...)
}

// handleSaveFeedback extracts and stores feedback for a transcript that was
// collected outside a server-side session.
func (s *Server) handleSaveFeedback(w http.ResponseWriter, r *http.Request) {
	var req saveFeedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs := conversation(req.Messages)
	fb, err := s.cfg.Extractor.Extract(r.Context(), msgs)
	if err != nil {
		s.upstreamError(w, r, "extract feedback", err)
		return
	}
	rec := types.NewFeedbackRecord(req.User, req.EventID, req.EventName, msgs, fb)
	id, err := s.cfg.Store.Save(r.Context(), rec)
	if err != nil {
		s.internalError(w, r, "save feedback", err)
		return
	}
	s.cfg.Metrics.RecordFeedbackSaved(r.Context(), sourceSave)
	writeJSON(w, http.StatusOK, feedbackResponse{
		Success:    true,
		Analysis:   &fb,
		FeedbackID: id,
		Message:    "Feedback saved successfully",
	})
}

// ─── Events and interview info ───────────────────────────────────────────────

func (s *Server) handlePastEvents(w http.ResponseWriter, r *http.Request) {
	s.writeEvents(w, r, s.eventSource().PastEvents)
}

func (s *Server) handleUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	s.writeEvents(w, r, s.eventSource().UpcomingEvents)
}

func (s *Server) writeEvents(w http.ResponseWriter, r *http.Request, list func(context.Context, time.Time) ([]types.Event, error)) {
	events, err := list(r.Context(), s.now())
	if err != nil {
		s.internalError(w, r, "list events", err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type interviewInfo struct {
	AssistantName string   `json:"assistant_name"`
	Organization  string   `json:"organization"`
	CourseLink    string   `json:"course_link"`
	Questions     []string `json:"questions"`
}

// handleInterviewInfo returns the scripted question list. The optional name
// and event query parameters personalise it.
func (s *Server) handleInterviewInfo(w http.ResponseWriter, r *http.Request) {
	p := s.cfg.Sessions.Profile()
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, interviewInfo{
		AssistantName: p.AssistantName,
		Organization:  p.Organization,
		CourseLink:    p.CourseLink,
		Questions:     p.Questions(q.Get("name"), q.Get("event")),
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// conversation drops messages whose role is not user, assistant or system.
func conversation(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser, types.RoleAssistant, types.RoleSystem:
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.cfg.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "content is required")
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusConflict, "session is closed")
	case r.Context().Err() != nil:
		// Client went away; nothing useful to send.
	default:
		s.upstreamError(w, r, "session turn", err)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// upstreamError reports a failed model call as 502.
func (s *Server) upstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.Logger(r.Context()).ErrorContext(r.Context(), op+" failed", "err", err)
	observe.CaptureError(r.Context(), err, map[string]any{"op": op, "path": r.URL.Path})
	writeError(w, http.StatusBadGateway, op+" failed")
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.Logger(r.Context()).ErrorContext(r.Context(), op+" failed", "err", err)
	observe.CaptureError(r.Context(), err, map[string]any{"op": op, "path": r.URL.Path})
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.CORSOrigin
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, traceparent")
		h.Set("Access-Control-Expose-Headers", strings.Join([]string{headerCheckCompletion, observe.CorrelationHeader}, ", "))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
