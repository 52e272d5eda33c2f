package main

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/selah-app/selah/engine/recommend"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Answer recommendation requests from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			logger := ctx.log()
			runCtx := cmd.Context()

			svc, cleanup, err := ctx.recommendService(runCtx)
			if err != nil {
				return err
			}
			defer cleanup()

			nc, err := nats.Connect(cfg.NATS.URL,
				nats.Name("selah-worker"),
				nats.MaxReconnects(-1),
				nats.ReconnectWait(2*time.Second),
				nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
					if err != nil {
						logger.Warn("nats disconnected", "err", err)
					}
				}),
				nats.ReconnectHandler(func(c *nats.Conn) {
					logger.Info("nats reconnected", "url", c.ConnectedUrl())
				}),
			)
			if err != nil {
				return err
			}
			defer nc.Close()

			sub, err := recommend.StartConsumer(nc, svc, cfg.NATS.Queue, logger)
			if err != nil {
				return err
			}

			ctx.metrics.CollectRuntime(runCtx, 15*time.Second)
			ctx.metrics.ServeAsync(cfg.Server.MetricsPort)
			logger.Info("worker listening", "subject", recommend.RequestSubject, "queue", cfg.NATS.Queue)

			<-runCtx.Done()
			logger.Info("shutdown signal received, draining")
			if err := sub.Drain(); err != nil {
				logger.Warn("drain subscription failed", "err", err)
			}
			return nc.Drain()
		},
	}
}
