// Package app wires all feedbackd subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the feedback store,
// the extractor, the session manager and the HTTP API, Run serves until the
// context ends, and Shutdown tears everything down in order.
//
// For testing, inject implementations via functional options (WithStore,
// WithEvents, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/feedbackd/internal/config"
	"github.com/MrWong99/feedbackd/internal/extract"
	"github.com/MrWong99/feedbackd/internal/feedback"
	"github.com/MrWong99/feedbackd/internal/feedback/luma"
	"github.com/MrWong99/feedbackd/internal/feedback/postgres"
	"github.com/MrWong99/feedbackd/internal/finalize"
	"github.com/MrWong99/feedbackd/internal/health"
	"github.com/MrWong99/feedbackd/internal/interview"
	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
)

// Defaults for the background session sweep.
const (
	sweepInterval = time.Minute
	maxSessionAge = 2 * time.Hour
)

// extractionTemperature keeps the analysis close to the transcript.
const extractionTemperature = 0.3

// Providers holds the LLM backends. Extraction may be nil, in which case the
// LLM provider also extracts.
type Providers struct {
	LLM        llm.Provider
	Extraction llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store     feedback.Store
	events    feedback.EventSource
	extractor finalize.Extractor
	sessions  *SessionManager
	health    *health.Handler
	server    *Server
	httpSrv   *http.Server

	checkers       []health.Checker
	metrics        *observe.Metrics
	metricsHandler http.Handler
	reporter       finalize.ErrorReporter
	log            *slog.Logger

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a feedback store instead of creating one from config.
func WithStore(s feedback.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEvents injects an event source instead of deriving it from config.
func WithEvents(e feedback.EventSource) Option {
	return func(a *App) { a.events = e }
}

// WithExtractor injects a structured extractor instead of the LLM one.
func WithExtractor(e finalize.Extractor) Option {
	return func(a *App) { a.extractor = e }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithErrorReporter forwards finalize failures to r.
func WithErrorReporter(r finalize.ErrorReporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithChecker adds a readiness check.
func WithChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Feedback store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Notifications ─────────────────────────────────────────────────
	if err := a.initNotify(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init notify: %w", err)
	}

	// ── 3. Extractor ─────────────────────────────────────────────────────
	if a.extractor == nil {
		p := providers.Extraction
		if p == nil {
			p = providers.LLM
		}
		a.extractor = extract.New(p,
			extract.WithMetrics(a.metrics),
			extract.WithTemperature(extractionTemperature),
		)
	}

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		LLM:           providers.LLM,
		Extractor:     a.extractor,
		Store:         a.store,
		Profile:       ProfileFromConfig(cfg.Interview),
		Keyterms:      cfg.Interview.Keyterms,
		TerminalDelay: cfg.Interview.TerminalDelay,
		Completion:    cfg.Interview.Completion,
		Metrics:       a.metrics,
		Reporter:      a.reporter,
		Logger:        a.log,
	})

	// ── 5. HTTP API ──────────────────────────────────────────────────────
	a.health = health.New(a.checkers...)
	a.server = NewServer(ServerConfig{
		Sessions:       a.sessions,
		Extractor:      a.extractor,
		Store:          a.store,
		Events:         a.events,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		CORSOrigin:     cfg.Server.CORSOrigin,
		Logger:         a.log,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore builds the configured store and event source unless injected.
// A Luma calendar wins over the postgres events table, which wins over the
// configured event list.
func (a *App) initStore(ctx context.Context) error {
	if lc := a.cfg.Interview.Luma; a.events == nil && lc.APIKey != "" {
		opts := []luma.Option{}
		if lc.BaseURL != "" {
			opts = append(opts, luma.WithBaseURL(lc.BaseURL))
		}
		if lc.CacheTTL > 0 {
			opts = append(opts, luma.WithCacheTTL(lc.CacheTTL))
		}
		src, err := luma.New(lc.APIKey, opts...)
		if err != nil {
			return err
		}
		a.events = src
		a.log.Info("event list served from luma calendar")
	}
	if a.store == nil {
		switch a.cfg.Store.Backend {
		case config.StorePostgres:
			pg, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			a.store = pg
			if a.events == nil {
				a.events = pg
			}
		case config.StoreMemory:
			a.store = &feedback.MemoryStore{}
		default:
			ids, err := feedback.NewIDGenerator(a.cfg.IDs.Node)
			if err != nil {
				return err
			}
			path := a.cfg.Store.Path
			if path == "" {
				path = config.DefaultStorePath
			}
			a.store = feedback.NewFileStore(path, ids)
		}
		a.log.Info("feedback store ready", "backend", a.cfg.Store.Backend)
	}
	if p, ok := a.store.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("store", p))
	}
	if a.events == nil {
		a.events = feedback.StaticEvents(a.cfg.Interview.Events)
	}
	return nil
}

// initNotify wraps the store so every save is announced on a Redis stream.
func (a *App) initNotify(ctx context.Context) error {
	if a.cfg.Notify.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(a.cfg.Notify.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.checkers = append(a.checkers, health.Ping("redis", redisPinger{client}))

	pub := feedback.NewRedisPublisher(client, a.cfg.Notify.Stream)
	a.store = feedback.NewPublishingStore(a.store, pub, a.log)
	a.log.Info("feedback notifications enabled", "stream", a.cfg.Notify.Stream)
	return nil
}

// runClosers releases what a failed New already acquired.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

// ProfileFromConfig builds the assistant profile from the interview section.
func ProfileFromConfig(ic config.InterviewConfig) interview.Profile {
	return interview.Profile{
		AssistantName: ic.AssistantName,
		Organization:  ic.Organization,
		CourseLink:    ic.CourseLink,
		FAQ:           ic.FAQ,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a configuration change.
// Sections that need a restart are only logged.
func (a *App) ApplyConfig(next *config.Config, d config.ConfigDiff) {
	if d.ProfileChanged {
		a.sessions.SetProfile(ProfileFromConfig(next.Interview))
	}
	if d.KeytermsChanged {
		a.sessions.SetKeyterms(next.Interview.Keyterms)
	}
	if d.TerminalDelayChanged {
		a.sessions.SetTerminalDelay(next.Interview.TerminalDelay)
	}
	if _, ok := a.events.(feedback.StaticEvents); ok && len(d.EventsAdded)+len(d.EventsRemoved)+len(d.EventsChanged) > 0 {
		a.events = feedback.StaticEvents(next.Interview.Events)
		a.server.SetEvents(a.events)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on cfg.Server.ListenAddr and blocks until ctx is
// cancelled or the listener fails. A background sweep removes finished and
// abandoned sessions.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http api listening", "addr", ln.Addr().String())
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if n := a.sessions.Sweep(gctx, maxSessionAge); n > 0 {
					a.log.Info("swept sessions", "count", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		a.health.SetDraining(true)
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every session (cancelling in-flight finalization) and
// runs the closers in order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))
		a.health.SetDraining(true)
		a.sessions.CloseAll(ctx)

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
