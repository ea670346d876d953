package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supporttools/restime/pkg/logger"
)

// newHandler serves the registry at path plus a /health endpoint.
func newHandler(path string, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          logger.Get(),
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"restime"}`))
	})
	return mux
}

// startHTTPServer binds addr before returning so a port conflict is reported
// to the caller, then serves in the background.
func startHTTPServer(addr, path string, registry *prometheus.Registry) (*http.Server, net.Addr, error) {
	if registry == nil {
		return nil, nil, fmt.Errorf("registry cannot be nil")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      newHandler(path, registry),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Serving metrics on %s%s", ln.Addr(), path)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()

	return server, ln.Addr(), nil
}

// shutdownServer gracefully shuts down the HTTP server.
func shutdownServer(server *http.Server, timeout time.Duration) error {
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warnf("Metrics server shutdown error: %v", err)
		return err
	}
	logger.Debugf("Metrics server shut down")
	return nil
}
