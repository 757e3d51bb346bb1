// Command scalewatch keeps a Bosun alerting backend consistent with the
// lifecycle of autoscaled EC2 instances: scale-down events install alert
// silences so planned terminations never page anyone.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/bosun"
	"github.com/t77yq/scalewatch/internal/cloud"
	"github.com/t77yq/scalewatch/internal/config"
)

var version = "dev"

var (
	configPath string
	plaintext  bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "scalewatch",
	Short: "Silence Bosun alerts for autoscaling scale-down events",
	Long: `scalewatch consumes EC2 autoscaling lifecycle and instance state-change
notifications and installs alert-silence windows in Bosun, so that planned
scale-down never pages anyone while real alerts stay visible.

Run modes:
  lambda   handle one EventBridge envelope per Lambda invocation
  worker   consume mirrored envelopes from a NATS JetStream subject`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (falls back to $"+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().BoolVar(&plaintext, "plaintext", false,
		"treat config secrets as plaintext, skip KMS decryption")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose (development) logging")

	rootCmd.AddCommand(lambdaCmd, workerCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// setup performs the shared bootstrap: logger, config load, KMS decryption.
func setup(ctx context.Context) (*zap.Logger, *config.Config, aws.Config, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, aws.Config{}, fmt.Errorf("failed to create logger: %w", err)
	}

	path, err := config.Path(configPath)
	if err != nil {
		return nil, nil, aws.Config{}, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, aws.Config{}, err
	}
	logger.Debug("Loaded configuration", zap.String("path", path))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if !plaintext {
		if err := cfg.Decrypt(ctx, cloud.NewKMSFromConfig(awsCfg)); err != nil {
			return nil, nil, aws.Config{}, err
		}
		logger.Debug("Decrypted configuration secrets")
	}

	return logger, cfg, awsCfg, nil
}

func newBosunClient(cfg *config.Config, logger *zap.Logger) *bosun.Client {
	return bosun.NewClient(
		cfg.Bosun.Host,
		cfg.Bosun.User,
		cfg.Bosun.Password,
		cfg.Bosun.Timeout,
		bosun.Tags(cfg.Bosun.Tags),
		logger,
	)
}
