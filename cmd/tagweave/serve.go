package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hurricanerix/tagweave/internal/startup"
)

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				opts.portOverride = port
			}
			return serve(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func serve(cmd *cobra.Command, opts *options) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger := startup.CreateLogger(cfg, cmd.ErrOrStderr())
	defer logger.Sync()

	logger.Info("Starting tagweave %s...", cmd.Root().Version)
	logger.Debug("Configuration: port=%d, seed=%d, storage=%s", cfg.Server.Port, cfg.Generation.Seed, cfg.Storage.Driver)
	logger.Debug("Text backend: %s url=%s model=%s", cfg.Text.Backend, cfg.Text.URL, cfg.Text.Model)

	ctx := cmd.Context()

	logger.Debug("Validating text backend...")
	if err := startup.ValidateText(ctx, cfg); err != nil {
		logger.Error("Text backend validation failed: %v", err)
		return fmt.Errorf("%w\n\nPlease ensure the %s server is running at %s", err, cfg.Text.Backend, cfg.Text.URL)
	}
	logger.Info("Connected to %s at %s (model: %s)", cfg.Text.Backend, cfg.Text.URL, cfg.Text.Model)

	if cfg.Comfy.URL != "" {
		if err := startup.ValidateComfy(ctx, cfg.Comfy.URL); err != nil {
			// The URL can be corrected from the settings page.
			logger.Warn("ComfyUI validation failed: %v", err)
		} else {
			logger.Info("Connected to ComfyUI at %s", cfg.Comfy.URL)
		}
	}

	components, err := startup.InitializeAll(ctx, cfg, logger)
	if err != nil {
		logger.Error("Initialization failed: %v", err)
		return err
	}
	defer startup.Shutdown(components)

	logger.Info("Listening on http://%s", components.WebServer.Addr())
	return startup.Run(ctx, components.WebServer, logger)
}
