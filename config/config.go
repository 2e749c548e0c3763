package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"vibin_video/models"

	"github.com/spf13/viper"
)

const (
	StoreDynamo = "dynamodb"
	StoreMemory = "memory"
)

type Config struct {
	Port            string
	Store           string
	AWSRegion       string
	DynamoEndpoint  string
	TablePrefix     string
	StaleAfter      time.Duration
	EndedGrace      time.Duration
	SignalRetention time.Duration
	StrictPayloads  bool
	ClaimRetries    int
	LogLevel        string
	LogDevelopment  bool
	AllowedOrigins  []string
	SocketEnabled   bool
}

// SetDefaults registers every key so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("store", StoreDynamo)
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("dynamo_endpoint", "")
	v.SetDefault("table_prefix", "Video")
	v.SetDefault("stale_after", models.DefaultStaleAfter)
	v.SetDefault("ended_grace", models.DefaultEndedGrace)
	v.SetDefault("signal_retention", models.DefaultSignalRetention)
	v.SetDefault("strict_payloads", false)
	v.SetDefault("claim_retries", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("socket_enabled", true)
}

// Load reads configuration from VIBIN_* environment variables, the bare PORT and AWS_REGION
// variables, and an optional config file.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix("VIBIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("port", "VIBIN_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port: %w", err)
	}
	if err := v.BindEnv("aws_region", "VIBIN_AWS_REGION", "AWS_REGION"); err != nil {
		return Config{}, fmt.Errorf("bind aws_region: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := Config{
		Port:            v.GetString("port"),
		Store:           strings.ToLower(v.GetString("store")),
		AWSRegion:       v.GetString("aws_region"),
		DynamoEndpoint:  v.GetString("dynamo_endpoint"),
		TablePrefix:     v.GetString("table_prefix"),
		StaleAfter:      v.GetDuration("stale_after"),
		EndedGrace:      v.GetDuration("ended_grace"),
		SignalRetention: v.GetDuration("signal_retention"),
		StrictPayloads:  v.GetBool("strict_payloads"),
		ClaimRetries:    v.GetInt("claim_retries"),
		LogLevel:        v.GetString("log_level"),
		LogDevelopment:  v.GetBool("log_development"),
		AllowedOrigins:  splitList(v.GetStringSlice("allowed_origins")),
		SocketEnabled:   v.GetBool("socket_enabled"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreDynamo, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreDynamo, StoreMemory)
	}
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.StaleAfter <= 0 || c.EndedGrace <= 0 || c.SignalRetention <= 0 {
		return errors.New("durations must be positive")
	}
	if c.SignalRetention < c.EndedGrace {
		return fmt.Errorf("signal_retention (%s) must not be shorter than ended_grace (%s)", c.SignalRetention, c.EndedGrace)
	}
	if c.ClaimRetries < 0 {
		return errors.New("claim_retries must not be negative")
	}
	return nil
}

// splitList accepts both list values and a single comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
