package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	nodex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/nodes"
)

type Config struct {
	Addr            string        `default:":3978"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	MaxBodyBytes    int64         `split_words:"true" default:"1048576"`
}

// ActivityHandler runs one turn for an inbound activity.
type ActivityHandler interface {
	HandleActivity(ctx context.Context, activity contractx.Activity, sender contractx.Sender) (nodex.GraphOutput, error)
}

// TurnResponse is the body returned for non-invoke activities: every reply the
// turn produced, in order.
type TurnResponse struct {
	Activities []contractx.Activity `json:"activities"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Option func(*Server)

// WithMetrics mounts h under /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

type Server struct {
	cfg     Config
	handler ActivityHandler
	metrics http.Handler
	router  chi.Router
}

func New(cfg Config, handler ActivityHandler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errors.New("activity handler is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3978"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{cfg: cfg, handler: handler}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, took time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("took", took).
			Msg("http: request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/messages", s.handleMessages)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then drains in-flight turns.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", s.cfg.Addr).Msg("http: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("http: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	var activity contractx.Activity
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&activity); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		logger.Warn().Err(err).Msg("http: invalid activity body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid activity body"})
		return
	}

	sender := &bufferedSender{}
	out, err := s.handler.HandleActivity(r.Context(), activity, sender)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("activity_id", activity.ID).Msg("http: turn failed")
		}
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	if out.Invoke != nil {
		writeJSON(w, out.Invoke.Status, out.Invoke.Body)
		return
	}
	writeJSON(w, http.StatusOK, TurnResponse{Activities: sender.activities()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, nodex.ErrInvalidActivity),
		errors.Is(err, nodex.ErrInvalidConversation),
		errors.Is(err, contractx.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("http: encode response")
	}
}

// bufferedSender keeps replies for the response body instead of calling back
// into the channel.
type bufferedSender struct {
	mu   sync.Mutex
	sent []contractx.Activity
}

func (b *bufferedSender) Send(_ context.Context, reply contractx.Activity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, reply)
	return nil
}

func (b *bufferedSender) activities() []contractx.Activity {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]contractx.Activity, len(b.sent))
	copy(out, b.sent)
	return out
}
