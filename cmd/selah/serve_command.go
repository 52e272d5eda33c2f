package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the recommendation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			logger := ctx.log()
			runCtx := cmd.Context()

			svc, cleanup, err := ctx.recommendService(runCtx)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx.metrics.CollectRuntime(runCtx, 15*time.Second)
			ctx.metrics.ServeAsync(cfg.Server.MetricsPort)

			srv := &http.Server{
				Addr:         ":" + cfg.Server.Port,
				Handler:      newHandler(svc, logger, ctx.metrics, cfg.Server.CORSOrigin),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: cfg.Recommend.RequestTimeout + 10*time.Second,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("api server starting", "port", cfg.Server.Port, "metrics_port", cfg.Server.MetricsPort)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-runCtx.Done():
				logger.Info("shutdown signal received")
			}

			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		},
	}
}
