// Package config loads gateway process configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for a gateway process.
type Config struct {
	Server      ServerConfig
	Master      MasterConfig
	Timeouts    TimeoutConfig
	Redis       RedisConfig
	Logging     LoggingConfig
	Credentials CredentialsConfig
}

// ServerConfig holds the robot-facing WebSocket listener settings.
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	ExtPort int    `mapstructure:"ext_port"`
}

// MasterConfig holds the master-link settings: the port the gateway's
// internal RPC endpoint listens on (CommPort), and the master's own
// host and port. The gateway does not dial the master; cmd/gateway
// reads only CommPort.
type MasterConfig struct {
	Host     string `mapstructure:"master_host"`
	Port     int    `mapstructure:"master_port"`
	CommPort int    `mapstructure:"comm_port"`
}

// TimeoutConfig holds the two timeouts the spec calls out by name.
type TimeoutConfig struct {
	MsgQueueTimeoutSec  int `mapstructure:"msg_queue_timeout_sec"`
	ReconnectTimeoutSec int `mapstructure:"reconnect_timeout_sec"`
}

// MsgQueueTimeout returns the reassembly age bound as a Duration.
func (t TimeoutConfig) MsgQueueTimeout() time.Duration {
	return time.Duration(t.MsgQueueTimeoutSec) * time.Second
}

// ReconnectTimeout returns the reconnect grace window as a Duration.
func (t TimeoutConfig) ReconnectTimeout() time.Duration {
	return time.Duration(t.ReconnectTimeoutSec) * time.Second
}

// RedisConfig holds the activity-stream sink settings.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// LoggingConfig holds structured-logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// CredentialsConfig holds the gateway's own login credential for the
// master-link handshake (§6: "the gateway publishes the RobotClient as
// the root object after login"). Per-robot authentication keys are not
// configuration — the master publishes them per session via
// createNamespace (§4.3). masterlink.Listener does not check this
// value when the master connects.
type CredentialsConfig struct {
	SharedSecret string `mapstructure:"shared_secret"`
}

// Load reads configuration from environment variables, falling back to
// defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("GATEWAY_HOST", "0.0.0.0")
	v.SetDefault("GATEWAY_EXT_PORT", 8080)

	v.SetDefault("GATEWAY_MASTER_HOST", "localhost")
	v.SetDefault("GATEWAY_MASTER_PORT", 9090)
	v.SetDefault("GATEWAY_COMM_PORT", 9191)

	v.SetDefault("GATEWAY_MSG_QUEUE_TIMEOUT_SEC", 30)
	v.SetDefault("GATEWAY_RECONNECT_TIMEOUT_SEC", 10)

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")

	v.SetDefault("GATEWAY_LOG_LEVEL", "info")

	v.SetDefault("GATEWAY_SHARED_SECRET", "")

	cfg := &Config{
		Server: ServerConfig{
			Host:    v.GetString("GATEWAY_HOST"),
			ExtPort: v.GetInt("GATEWAY_EXT_PORT"),
		},
		Master: MasterConfig{
			Host:     v.GetString("GATEWAY_MASTER_HOST"),
			Port:     v.GetInt("GATEWAY_MASTER_PORT"),
			CommPort: v.GetInt("GATEWAY_COMM_PORT"),
		},
		Timeouts: TimeoutConfig{
			MsgQueueTimeoutSec:  v.GetInt("GATEWAY_MSG_QUEUE_TIMEOUT_SEC"),
			ReconnectTimeoutSec: v.GetInt("GATEWAY_RECONNECT_TIMEOUT_SEC"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("GATEWAY_LOG_LEVEL"),
		},
		Credentials: CredentialsConfig{
			SharedSecret: v.GetString("GATEWAY_SHARED_SECRET"),
		},
	}

	return cfg, nil
}

// MasterdConfig is the configuration for the cmd/masterd reference
// master process: the HTTP port it answers placement queries on, and
// the commPort addresses of the gateways it dials out to.
type MasterdConfig struct {
	Port         int      `mapstructure:"port"`
	GatewayAddrs []string `mapstructure:"gateway_addrs"`
	LogLevel     string   `mapstructure:"log_level"`
}

// LoadMasterd reads cmd/masterd's configuration from the environment.
func LoadMasterd() (*MasterdConfig, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MASTERD_PORT", 9090)
	v.SetDefault("MASTERD_GATEWAY_ADDRS", "localhost:9191")
	v.SetDefault("MASTERD_LOG_LEVEL", "info")

	addrs := strings.Split(v.GetString("MASTERD_GATEWAY_ADDRS"), ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}

	return &MasterdConfig{
		Port:         v.GetInt("MASTERD_PORT"),
		GatewayAddrs: addrs,
		LogLevel:     v.GetString("MASTERD_LOG_LEVEL"),
	}, nil
}
