package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatline/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chatline gateway server",
		Long: `Start the chatline gateway server.

The server exposes the chat endpoint and channel, stats and tool-group
admin endpoints under /api/v1. Send SIGHUP to reload channels, presets
and context.group_isolation from the config file.`,
		Example: `  # Start with the default configuration
  chatline serve

  # Override the listen address
  chatline serve --host 0.0.0.0 --port 9000`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return errors.New("CLI context not initialized")
	}
	log := cliCtx.Log()

	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

	srv, err := server.NewServer(server.ServerConfig{
		ConfigPath:  cliCtx.ConfigPath,
		StoragePath: cliCtx.StoragePath,
		Host:        host,
		Port:        port,
		Logger:      *log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	gw := srv.Config().Gateway
	log.Info().
		Str("address", fmt.Sprintf("http://%s:%d", gw.Host, gw.Port)).
		Msg("Server started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var runErr error
wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := srv.Reload(); err != nil {
					log.Error().Err(err).Msg("Reload failed")
				}
				continue
			}
			log.Info().Msg("Shutting down server...")
			break wait
		case err := <-srv.ErrorChan():
			log.Error().Err(err).Msg("Server error")
			runErr = err
			break wait
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return errors.Join(runErr, err)
	}

	log.Info().Msg("Server stopped")
	return runErr
}
