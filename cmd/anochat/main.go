// main.go
// Wires everything together: configuration and logging, the lobby and its
// dispatcher, the websocket client manager, the event bus and the HTTP server.
// Everything runs in one errgroup and stops on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"anochat/internal/config"
	"anochat/internal/dispatch"
	"anochat/internal/events"
	"anochat/internal/lobby"
	"anochat/internal/logging"
	"anochat/internal/server"
	"anochat/internal/transport/ws"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "anochat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "anochat",
		Short:         "Pair anonymous strangers into one-on-one websocket chats",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr := cfg.Addr()
			if a, _ := cmd.Flags().GetString("addr"); a != "" {
				addr = a
			}
			return run(cmd.Context(), cfg, addr)
		},
	}
	cmd.Flags().String("env-file", ".env", "dotenv file loaded before the environment")
	cmd.Flags().String("addr", "", "listen address, overrides HOST/PORT")
	cmd.Flags().String("log-level", "", "trace, debug, info, warn or error")
	cmd.Flags().String("log-format", "", "console or json")
	return cmd
}

// loadConfig layers explicitly set flags over the environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	fs := cmd.Flags()
	envFile, _ := fs.GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, err
	}
	if fs.Changed("log-level") {
		cfg.LogLevel, _ = fs.GetString("log-level")
	}
	if fs.Changed("log-format") {
		cfg.LogFormat, _ = fs.GetString("log-format")
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, addr string) error {
	logger, err := logging.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logger, cfg.EventBuffer)
	defer bus.Close()

	l := lobby.New(lobby.WithLogger(logger))
	dispatcher := dispatch.New(l, bus, logger)
	clients := ws.NewClientManager(logger)
	wsHandler := ws.NewHandler(dispatcher, clients, ws.Options{
		SendBuffer:      cfg.SendBuffer,
		PingInterval:    cfg.PingInterval,
		WriteTimeout:    cfg.WriteTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, cfg.AllowedOrigins, logger)

	srv := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(server.Deps{
			Lobby:          l,
			WebSocket:      wsHandler,
			Connections:    clients.Count,
			StaticDir:      cfg.StaticDir,
			AllowedOrigins: cfg.AllowedOrigins,
			Log:            logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return clients.Run(egCtx) })
	eg.Go(func() error { return events.RunAuditLog(egCtx, bus, logger) })
	eg.Go(func() error {
		logger.Info().Str("addr", addr).Str("static_dir", cfg.StaticDir).Msg("anochat listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Wrap(srv.Shutdown(shutdownCtx), "http shutdown")
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server closed")
	return nil
}
