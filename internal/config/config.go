package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const envPrefix = "CHAT"

type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	HTTPAddr       string        `mapstructure:"http_addr"`
	SendQueueSize  int           `mapstructure:"send_queue_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	LogLevel       string        `mapstructure:"log_level"`
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("send_queue_size", 256)
	v.SetDefault("max_message_size", 4096)
	v.SetDefault("write_wait", "10s")
	v.SetDefault("ping_interval", "54s")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log_level", "info")
}

// Load reads configuration from v, an optional YAML file and the CHAT_HOST
// and CHAT_PORT environment variables. Flags already bound to v take
// precedence over all of them.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	for _, key := range []string{"host", "port"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.SendQueueSize < 1 {
		return errors.New("send queue size must be positive")
	}
	if c.MaxMessageSize < 64 {
		return fmt.Errorf("max message size %d is below 64 bytes", c.MaxMessageSize)
	}
	if c.WriteWait < 0 || c.PingInterval < 0 {
		return errors.New("durations cannot be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// ListenAddr is the TCP chat listener address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PongWait is how long a WebSocket peer may stay silent before it is
// considered gone. Zero when pings are disabled.
func (c *Config) PongWait() time.Duration {
	if c.PingInterval == 0 {
		return 0
	}
	return c.PingInterval * 10 / 9
}
