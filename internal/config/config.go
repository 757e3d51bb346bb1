// Package config loads and validates the scalewatch configuration document.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/scalewatch/internal/mapping"
)

// EnvConfigFile names the config document when no --config flag is given.
const EnvConfigFile = "SW_CONFIG_FILE"

// Config is the full configuration document. The Bosun password is stored
// KMS-encrypted and must be decrypted before use.
type Config struct {
	Bosun     BosunConfig     `mapstructure:"bosun"`
	ASG       ASGConfig       `mapstructure:"asg"`
	EC2       EC2Config       `mapstructure:"ec2"`
	Retry     RetryConfig     `mapstructure:"retry"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
}

// BosunConfig holds the alerting backend connection parameters.
type BosunConfig struct {
	Host     string            `mapstructure:"host"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Tags     map[string]string `mapstructure:"tags"`
}

// ASGConfig configures the authoritative scale-down path.
type ASGConfig struct {
	// ScaledownSilenceDuration is the long silence installed for
	// group-issued termination events.
	ScaledownSilenceDuration time.Duration     `mapstructure:"scaledown_silence_duration"`
	Mappings                 []mapping.Mapping `mapstructure:"mappings"`
}

// EC2Config configures the provisional state-change path.
type EC2Config struct {
	// ScaledownSilenceDuration is the short silence installed for
	// instance state-change events.
	ScaledownSilenceDuration time.Duration `mapstructure:"scaledown_silence_duration"`
}

// RetryConfig bounds retries against the membership oracle and Bosun.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// NATSConfig configures worker mode's event source.
type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	Subject        string        `mapstructure:"subject"`
	Stream         string        `mapstructure:"stream"`
	Durable        string        `mapstructure:"durable"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

// HeartbeatConfig configures worker mode's liveness beacon.
type HeartbeatConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// Mappings returns the rule list as an ordered resolver.
func (c *Config) Mappings() *mapping.Mappings {
	return &mapping.Mappings{Items: c.ASG.Mappings}
}

// Path resolves the configuration file location from the explicit flag
// value or the environment.
func Path(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no config file given: set --config or %s", EnvConfigFile)
}

// Load reads and validates the configuration document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("bosun.timeout", 5*time.Second)
	v.SetDefault("asg.scaledown_silence_duration", 24*time.Hour)
	v.SetDefault("ec2.scaledown_silence_duration", 15*time.Minute)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.subject", "events.aws")
	v.SetDefault("nats.stream", "EVENTS")
	v.SetDefault("nats.durable", "scalewatch")
	v.SetDefault("heartbeat.schedule", "@every 1m")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the decision engine relies on.
func (c *Config) Validate() error {
	if c.Bosun.Host == "" {
		return fmt.Errorf("bosun.host is required")
	}
	if c.ASG.ScaledownSilenceDuration <= 0 {
		return fmt.Errorf("asg.scaledown_silence_duration must be positive")
	}
	if c.EC2.ScaledownSilenceDuration <= 0 {
		return fmt.Errorf("ec2.scaledown_silence_duration must be positive")
	}
	// The race resolution policy assumes the authoritative silence always
	// covers at least as much time as the provisional one.
	if c.ASG.ScaledownSilenceDuration < c.EC2.ScaledownSilenceDuration {
		return fmt.Errorf("asg.scaledown_silence_duration (%s) must not be shorter than ec2.scaledown_silence_duration (%s)",
			c.ASG.ScaledownSilenceDuration, c.EC2.ScaledownSilenceDuration)
	}

	for i, m := range c.ASG.Mappings {
		if m.Search == "" || m.TagName == "" || m.HostPrefix == "" {
			return fmt.Errorf("asg.mappings[%d]: search, tag_name and host_prefix are all required", i)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	return nil
}

// Decrypter decrypts config ciphertexts; implemented by cloud.KMS.
type Decrypter interface {
	DecryptBase64(ctx context.Context, ciphertext string) (string, error)
}

// Decrypt replaces the encrypted Bosun password with its plaintext.
func (c *Config) Decrypt(ctx context.Context, d Decrypter) error {
	plaintext, err := d.DecryptBase64(ctx, c.Bosun.Password)
	if err != nil {
		return fmt.Errorf("failed to decrypt bosun password: %w", err)
	}
	c.Bosun.Password = plaintext
	return nil
}
