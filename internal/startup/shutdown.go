package startup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hurricanerix/tagweave/internal/logging"
	"github.com/hurricanerix/tagweave/internal/web"
)

// Shutdown stops background goroutines and closes the settings store.
// Errors are logged; cleanup always runs to completion. A nil components
// is a no-op.
func Shutdown(components *Components) {
	if components == nil {
		return
	}
	logger := components.Logger
	logger.Debug("Starting cleanup")

	if components.cancel != nil {
		components.cancel()
	}
	if components.ImageStorage != nil {
		components.ImageStorage.Wait()
	}
	if components.Chats != nil {
		components.Chats.Shutdown()
	}
	if components.Settings != nil {
		if err := components.Settings.Close(); err != nil {
			logger.Error("Failed to close settings store: %v", err)
		}
	}

	logger.Debug("Cleanup complete")
	logger.Sync()
}

// Run starts the web server and blocks until ctx is cancelled or SIGINT or
// SIGTERM is received. Returns nil on clean shutdown.
func Run(ctx context.Context, server *web.Server, logger *logging.Logger) error {
	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The web.Server itself logs "Shutting down..." and "Web server stopped"
	if err := server.ListenAndServe(shutdownCtx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
