package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/iosh/dryrun/config"
	"github.com/iosh/dryrun/simulation"
)

const (
	httpTimeout     = 60 * time.Second
	httpIdleTimeout = 120 * time.Second
)

// StartJSONRPC starts the JSON-RPC server and registers its lifetime with the
// given errgroup. The returned server is already listening; it drains
// gracefully when the context is canceled.
func StartJSONRPC(
	ctx context.Context,
	logger log.Logger,
	g *errgroup.Group,
	cfg *config.Config,
	service *simulation.Service,
) (*http.Server, error) {
	logger = logger.With("module", "json-rpc")

	// Route go-ethereum's global slog output through our logger.
	slog.SetDefault(slog.New(&slogHandler{logger: logger.With("module", "geth")}))

	handler := NewHandler(service, logger)

	r := mux.NewRouter()
	r.Handle("/", handler).Methods(http.MethodPost)

	handlerWithCors := cors.Default()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handlerWithCors.Handler(r),
		ReadHeaderTimeout: httpTimeout,
		ReadTimeout:       httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	ln, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		return nil, err
	}

	g.Go(func() error {
		logger.Info("Starting JSON-RPC server", "address", httpSrv.Addr)
		errCh := make(chan error)
		go func() {
			errCh <- httpSrv.Serve(ln)
		}()

		// Start a blocking select to wait for an indication to stop the server or that
		// the server failed to start properly.
		select {
		case <-ctx.Done():
			// The calling process canceled or closed the provided context, so we must
			// gracefully stop the JSON-RPC server.
			logger.Info("stopping JSON-RPC server...", "address", httpSrv.Addr)
			if err := httpSrv.Shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown JSON-RPC server", "error", err.Error())
			}
			return nil

		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			logger.Error("failed to start JSON-RPC server", "error", err.Error())
			return err
		}
	})

	return httpSrv, nil
}

// slogHandler adapts the process logger to the slog interface go-ethereum
// logs against.
type slogHandler struct {
	logger log.Logger
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make([]any, 0, record.NumAttrs()*2)
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key, a.Value.Any())
		return true
	})
	switch {
	case record.Level >= slog.LevelError:
		h.logger.Error(record.Message, attrs...)
	case record.Level >= slog.LevelWarn:
		h.logger.Warn(record.Message, attrs...)
	default:
		h.logger.Info(record.Message, attrs...)
	}
	return nil
}

func (h *slogHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *slogHandler) WithGroup(_ string) slog.Handler { return h }
