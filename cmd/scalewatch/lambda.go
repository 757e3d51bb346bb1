package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/cloud"
	"github.com/t77yq/scalewatch/internal/engine"
	"github.com/t77yq/scalewatch/internal/metrics"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run as an AWS Lambda handler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, cfg, awsCfg, err := setup(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()

		b := newBosunClient(cfg, logger)

		// Metadata registration runs once per cold start; a failure is
		// not worth failing invocations over.
		if err := metrics.Register(ctx, b); err != nil {
			logger.Warn("Failed to register metric metadata", zap.Error(err))
		}

		eng := engine.New(cfg, b, cloud.NewASGFromConfig(awsCfg, logger), logger)
		logger.Info("Lambda handler initialized")

		lambda.StartWithOptions(func(ctx context.Context, raw json.RawMessage) error {
			return eng.Handle(ctx, raw)
		}, lambda.WithContext(ctx))

		return nil
	},
}
