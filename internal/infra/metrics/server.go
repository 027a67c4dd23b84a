package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runoshun/crewstate/internal/domain"
)

// Server serves /metrics and /healthz for a Recorder.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// NewHandler returns the HTTP handler exposing r.
func NewHandler(r *Recorder) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// StartServer listens on addr and serves r in a background goroutine.
// The server shuts down gracefully when ctx is cancelled.
func StartServer(ctx context.Context, addr string, r *Recorder, logger domain.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: ln,
		srv: &http.Server{
			Handler:      NewHandler(r),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}

	go func() {
		logger.Info("", "metrics", "metrics server listening on "+ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("", "metrics", "metrics server error: "+err.Error())
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutCtx)
	}()

	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string { return s.listener.Addr().String() }
