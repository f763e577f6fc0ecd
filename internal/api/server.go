// Package api exposes the bot's HTTP surface: channel webhooks, the timeout
// sweep trigger, a read-only view of the handoff queue, health and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/handoff"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/tasks"
)

// Defaults for the HTTP server.
const (
	DefaultAddr            = ":8080"
	DefaultWebhookRate     = 120
	DefaultWebhookWindow   = time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	SweepTokenHeader       = "X-Sweep-Token"
)

// ErrNoEngine is returned by NewServer when no engine is given.
var ErrNoEngine = errors.New("api server requires an engine")

// Engine is the part of the conversation engine the HTTP surface needs.
type Engine interface {
	Sweep(ctx context.Context) (int, error)
	Queue() *handoff.Queue
	Conversations() *store.ConversationStore
}

// TaskLister reports running background tasks.
type TaskLister interface {
	Active() []tasks.TaskInfo
}

// Webhook pairs a verification handler with a delivery handler. Verify may
// be nil for channels without a GET handshake.
type Webhook struct {
	Verify  http.HandlerFunc
	Receive http.HandlerFunc
}

// Server serves the bot's HTTP endpoints.
type Server struct {
	engine     Engine
	webhooks   map[string]Webhook
	sweepToken string
	gatherer   prometheus.Gatherer
	tasks      TaskLister
	rate       int
	window     time.Duration
	startedAt  time.Time

	router chi.Router
	http   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWebhook mounts hook under /webhook/{channel}.
func WithWebhook(channel string, hook Webhook) Option {
	return func(s *Server) {
		if hook.Receive != nil {
			s.webhooks[channel] = hook
		}
	}
}

// WithSweepToken requires the token in the X-Sweep-Token header of POST /sweep.
// An empty token leaves the endpoint disabled.
func WithSweepToken(token string) Option {
	return func(s *Server) { s.sweepToken = token }
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithTasks includes running background tasks in the health report.
func WithTasks(t TaskLister) Option {
	return func(s *Server) { s.tasks = t }
}

// WithWebhookRateLimit limits webhook deliveries per client IP.
func WithWebhookRateLimit(requests int, window time.Duration) Option {
	return func(s *Server) {
		if requests > 0 && window > 0 {
			s.rate = requests
			s.window = window
		}
	}
}

// NewServer builds the router for engine.
func NewServer(engine Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, ErrNoEngine
	}
	s := &Server{
		engine:    engine,
		webhooks:  make(map[string]Webhook),
		rate:      DefaultWebhookRate,
		window:    DefaultWebhookWindow,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/webhook", func(r chi.Router) {
		r.Use(webhookRateLimit(s.rate, s.window))
		for channel, hook := range s.webhooks {
			r.Post("/"+channel, hook.Receive)
			if hook.Verify != nil {
				r.Get("/"+channel, hook.Verify)
			}
			slog.Debug("Server.routes: webhook mounted", "channel", channel, "verify", hook.Verify != nil)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSweepToken)
		r.Post("/sweep", s.sweepHandler)
		r.Get("/queue", s.queueHandler)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	slog.Info("Server.ListenAndServe: listening", "addr", addr, "webhooks", len(s.webhooks))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	slog.Info("Server.Shutdown: shutting down HTTP server")
	return s.http.Shutdown(ctx)
}
