package server

import (
	"context"
	"net/http"
	"time"

	"cosmossdk.io/log"
	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	gethprom "github.com/ethereum/go-ethereum/metrics/prometheus"
	"github.com/pkg/errors"
)

// StartMetricsServer starts the metrics/health server on the specified
// address. It serves the geth metrics registry in prometheus format under
// /metrics and a plain health probe under /health.
func StartMetricsServer(ctx context.Context, logger log.Logger, addr string) error {
	logger = logger.With("module", "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", gethprom.Handler(gethmetrics.DefaultRegistry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting metrics server...", "address", addr)
		errCh <- server.ListenAndServe()
	}()

	// Start a blocking select to wait for an indication to stop the server or that
	// the server failed to start properly.
	select {
	case <-ctx.Done():
		// The calling process canceled or closed the provided context, so we must
		// gracefully stop the metrics server.
		logger.Info("stopping metrics server...", "address", addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "err", err)
			return err
		}
		return nil

	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start metrics server", "err", err)
			return err
		}
		return nil
	}
}
