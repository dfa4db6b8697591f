package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const gracefulShutdownTimeout = 5 * time.Second

// Config configures the metrics server.
type Config struct {
	Enabled     bool   `toml:"enabled" envconfig:"ENABLED"`
	BindAddress string `toml:"bind_address" envconfig:"BIND_ADDRESS"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		BindAddress: ":9090",
	}
}

// Server serves /metrics plus liveness and readiness probes.
type Server struct {
	bindAddress string
	httpServer  *http.Server
	logger      *slog.Logger
}

// NewServer builds the metrics server. ready reports whether the process
// can serve work; a nil ready always reports ready.
func NewServer(bindAddress string, ready func(ctx context.Context) error, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return &Server{
		bindAddress: bindAddress,
		logger:      logger.With("component", "metrics_server"),
		httpServer: &http.Server{
			Addr:              bindAddress,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves on listener until ctx is cancelled. A nil listener binds the
// configured address.
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.bindAddress)
		if err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.httpServer.SetKeepAlivesEnabled(false)
		_ = s.httpServer.Shutdown(ctxTimeout)
		s.logger.Info("metrics server terminated")
	}()

	s.logger.Info("serving metrics", "address", listener.Addr().String())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
