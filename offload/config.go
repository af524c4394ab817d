package offload

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"xdao.co/ldpcoffload/accel"
	"xdao.co/ldpcoffload/comch"
)

// EnvPrefix prefixes environment overrides, e.g. LDPC_OFFLOAD_DEVICE.
const EnvPrefix = "LDPC_OFFLOAD"

// Config selects the provider and tunes every session a Client opens.
//
// Example (YAML):
//
//	provider: grpc
//	provider_config:
//	  grpc-target: dpu0:7443
//	device: "03:00.0"
//	job_timeout: 2s
type Config struct {
	// Provider is the registry name of the comch provider (e.g. "grpc", "loopback").
	Provider string `mapstructure:"provider"`
	// ProviderConfig is handed to the provider; keys mirror its flag names.
	ProviderConfig map[string]string `mapstructure:"provider_config"`

	Device        string `mapstructure:"device"`
	EncodeService string `mapstructure:"encode_service"`
	DecodeService string `mapstructure:"decode_service"`

	// JobTimeout bounds one whole job, connect to drain.
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	LockMemory   bool          `mapstructure:"lock_memory"`

	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Provider:      "loopback",
		Device:        "03:00.0",
		EncodeService: accel.EncodeService,
		DecodeService: accel.DecodeService,
		JobTimeout:    5 * time.Second,
		PollInterval:  comch.DefaultPollInterval,
		DrainTimeout:  comch.DefaultDrainTimeout,
		LogLevel:      "info",
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("provider", d.Provider)
	v.SetDefault("device", d.Device)
	v.SetDefault("encode_service", d.EncodeService)
	v.SetDefault("decode_service", d.DecodeService)
	v.SetDefault("job_timeout", d.JobTimeout)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("drain_timeout", d.DrainTimeout)
	v.SetDefault("lock_memory", d.LockMemory)
	v.SetDefault("log_level", d.LogLevel)
}

// LoadConfig reads path (YAML, JSON or TOML by extension) over the defaults
// and applies LDPC_OFFLOAD_* environment overrides. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("offload: read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("offload: decode config: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Provider == "" {
		return errors.New("offload: provider is required")
	}
	if c.Device == "" {
		return errors.New("offload: device is required")
	}
	if c.EncodeService == "" || c.DecodeService == "" {
		return errors.New("offload: encode and decode service names are required")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("offload: job_timeout must be positive, got %s", c.JobTimeout)
	}
	if c.PollInterval < 0 || c.DrainTimeout < 0 {
		return errors.New("offload: poll_interval and drain_timeout must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); c.LogLevel != "" && err != nil {
		return fmt.Errorf("offload: %w", err)
	}
	return nil
}

// NewLogger builds a production logger at level ("" means info).
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
