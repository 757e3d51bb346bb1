package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load, decrypt and validate a configuration document",
	Long: `validate-config loads the configuration document, decrypts its secrets
(unless --plaintext is set) and prints a summary. It never talks to Bosun or
the autoscaling API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, cfg, _, err := setup(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()

		fmt.Printf("bosun.host: %s\n", cfg.Bosun.Host)
		fmt.Printf("bosun.user: %s\n", cfg.Bosun.User)
		fmt.Printf("bosun.password: %s\n", mask(cfg.Bosun.Password))
		fmt.Printf("bosun.timeout: %s\n", cfg.Bosun.Timeout)
		for k, v := range cfg.Bosun.Tags {
			fmt.Printf("bosun.tags.%s: %s\n", k, v)
		}
		fmt.Printf("asg.scaledown_silence_duration: %s\n", cfg.ASG.ScaledownSilenceDuration)
		fmt.Printf("ec2.scaledown_silence_duration: %s\n", cfg.EC2.ScaledownSilenceDuration)
		for i, m := range cfg.ASG.Mappings {
			fmt.Printf("asg.mappings[%d]: search=%q tag_name=%q host_prefix=%q\n",
				i, m.Search, m.TagName, m.HostPrefix)
		}
		fmt.Printf("retry: max_attempts=%d initial_delay=%s max_delay=%s multiplier=%.1f\n",
			cfg.Retry.MaxAttempts, cfg.Retry.InitialDelay, cfg.Retry.MaxDelay, cfg.Retry.Multiplier)

		fmt.Println("configuration is valid")
		return nil
	},
}

func mask(s string) string {
	if len(s) <= 2 {
		return "**"
	}
	return s[:1] + "****" + s[len(s)-1:]
}
