package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kinsi/kinsi/internal/app"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend-for-frontend HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.AppAddr = addr
			}
			logger := app.NewLogger(cfg, cmd.ErrOrStderr())
			if app.InTestMode() {
				logger.Info("test mode detected, skipping runtime startup")
				return nil
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides KINSI_APP_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	bff, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bff.Close(); err != nil {
			logger.Warn("storage close", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      bff.Handler,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("api", cfg.APIBaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
