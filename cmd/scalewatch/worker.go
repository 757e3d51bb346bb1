package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/cloud"
	"github.com/t77yq/scalewatch/internal/config"
	"github.com/t77yq/scalewatch/internal/engine"
	"github.com/t77yq/scalewatch/internal/metrics"
	"github.com/t77yq/scalewatch/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run as a long-lived NATS JetStream consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		logger, cfg, awsCfg, err := setup(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()

		nc, err := connectNATS(cfg.NATS, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS after retries", zap.Error(err))
			return err
		}
		defer nc.Close()
		logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

		js, err := nc.JetStream()
		if err != nil {
			logger.Error("Failed to create JetStream context", zap.Error(err))
			return err
		}

		b := newBosunClient(cfg, logger)
		if err := metrics.Register(ctx, b); err != nil {
			logger.Warn("Failed to register metric metadata", zap.Error(err))
		}

		eng := engine.New(cfg, b, cloud.NewASGFromConfig(awsCfg, logger), logger)

		w := worker.New(js, eng, cfg.NATS, logger)
		if err := w.Start(ctx); err != nil {
			logger.Error("Failed to start worker", zap.Error(err))
			return err
		}

		hb := worker.NewHeartbeat(b, cfg.Heartbeat.Schedule, logger)
		if err := hb.Start(); err != nil {
			logger.Error("Failed to start heartbeat", zap.Error(err))
			w.Stop()
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		hb.Stop()
		w.Stop()
		logger.Info("Worker shutting down gracefully")
		return nil
	},
}

// connectNATS dials with bounded retries; worker mode is useless without a
// connection, so startup fails when the budget is exhausted.
func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("scalewatch"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	url := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		url = cfg.URLs[0]
	}

	var (
		nc  *nats.Conn
		err error
	)
	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}
