package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/loralink/internal/store"
)

// Server hosts the diagnostics HTTP surface for one node.
type Server struct {
	addr   string
	log    *zap.Logger
	bus    *EventBus
	server *http.Server
}

// NewServer constructs a Server without starting it.
func NewServer(addr string, ctrl Controller, db *store.DB, bus *EventBus, log *zap.Logger) *Server {
	router := NewRouter(ctrl, db, bus, log)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		addr:   addr,
		log:    log,
		bus:    bus,
		server: srv,
	}
}

// Start serves HTTP and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.addr, err)
	}
	s.log.Info("HTTP gateway listening", zap.String("addr", ln.Addr().String()))

	srvErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("context cancelled – shutting down gateway")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutCtx)
	case err := <-srvErr:
		return err
	}
}
