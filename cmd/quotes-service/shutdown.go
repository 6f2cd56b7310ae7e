package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

const defaultShutdownTimeout = 30 * time.Second

// run starts the application and blocks until SIGINT, SIGTERM or ctx is
// done, then shuts down gracefully.
func run(ctx context.Context, app *application, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.start(ctx); err != nil {
		app.close(context.Background())
		fatalWithSync(logger, "failed to start quotes-service", observability.Error(err))
		return // unreachable in production; allows test to continue
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	app.shutdown()
}

// start brings up the background components and the listener. The key
// set is loaded first; a failed initial load is retried by the refresh
// loop and by unknown-kid lookups.
func (a *application) start(ctx context.Context) error {
	// The key set and the watcher outlive the signal context; shutdown
	// closes them explicitly.
	background := context.WithoutCancel(ctx)

	if err := a.keySet.Start(background); err != nil {
		a.logger.Warn("starting without signing keys", observability.Error(err))
	}

	if a.reloader != nil && a.config.Server.TLS.Watch {
		if err := a.reloader.Start(background); err != nil {
			return err
		}
	}

	if err := a.server.Start(ctx); err != nil {
		return err
	}

	startMetricsServerIfEnabled(a)
	return nil
}

// shutdown drains the listener, then releases everything else.
func (a *application) shutdown() {
	timeout := a.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.metricsServer != nil {
		a.logger.Info("stopping metrics server")
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	// Closed after the server so draining requests can still verify tokens.
	a.close(shutdownCtx)

	a.logger.Info("quotes-service stopped")
}
