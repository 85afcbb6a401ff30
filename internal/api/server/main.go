package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rlorbach/business-ai-agent/internal/api/server/client"
	"github.com/rlorbach/business-ai-agent/internal/api/server/handlers"
	"github.com/rlorbach/business-ai-agent/internal/config"
	"github.com/rlorbach/business-ai-agent/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// Server is the relay between chat widgets and the upstream LLM API.
type Server struct {
	cfg    config.Server
	http   *http.Server
	logger *logger.Logger
}

// New wires the upstream client, handlers and routes for cfg.
func New(cfg config.Server) (*Server, error) {
	upstream, err := client.NewOpenAIClient(cfg.UpstreamURL, cfg.OpenAIKey)
	if err != nil {
		return nil, err
	}
	return NewWithUpstream(cfg, upstream), nil
}

// NewWithUpstream is New with a caller supplied upstream.
func NewWithUpstream(cfg config.Server, upstream client.Upstream) *Server {
	localLogger := logger.NewLogger("Server")
	if cfg.ProxyToken == "" {
		localLogger.Warn("PROXY_TOKEN not set, every relay request will be refused")
	}
	if cfg.OpenAIKey == "" {
		localLogger.Warn("OPENAI_API_KEY not set, upstream calls will fail")
	}

	handler := handlers.NewHandler(upstream, cfg)
	return &Server{
		cfg:    cfg,
		logger: localLogger,
		http: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.http.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.logger.Info("LLM proxy (HTTP+WS) listening on http://" + ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Shutting down gracefully.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	return eg.Wait()
}
