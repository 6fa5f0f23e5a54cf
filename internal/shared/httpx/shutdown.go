package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// WaitAndShutdown blocks until ctx is done, then runs release hooks and shuts
// srv down. Hooks run first so parked long polls and open streams return
// instead of holding Shutdown for its whole timeout.
func WaitAndShutdown(ctx context.Context, log *slog.Logger, srv *http.Server, timeout time.Duration, release ...func()) {
	<-ctx.Done()

	log.Info("shutdown_start")

	for _, fn := range release {
		fn()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown_failed", slog.String("err", err.Error()))
		return
	}

	log.Info("shutdown_done")
}
