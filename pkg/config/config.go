// Package config loads the gateway configuration from YAML files and the
// environment, with struct-tag defaults.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config contains all configuration for the citylink gateway
type Config struct {
	// Logging configuration
	Log LogConfig `yaml:"log"`

	// MQTT broker connection
	MQTT MQTTConfig `yaml:"mqtt"`

	// HTTP API server
	HTTP HTTPConfig `yaml:"http"`

	// Remote content fetching
	Fetch FetchConfig `yaml:"fetch"`

	// Adaptation procedure tuning
	Adaptation AdaptationConfig `yaml:"adaptation"`
}

// MQTTConfig configures the broker connections shared by the registration
// handler, the node controllers, and adaptation runs.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url" env:"MQTT_BROKER_URL" default:"mqtt://localhost:1883"`
	Username  string `yaml:"username" env:"MQTT_USERNAME"`
	Password  string `yaml:"-" env:"MQTT_PASSWORD"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"10s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"5s"`

	// Subscription QoS for node controller traffic
	PropertyQoS uint8 `yaml:"property_qos" default:"1"`
	EventQoS    uint8 `yaml:"event_qos" default:"1"`
}

// HTTPConfig configures the gateway's HTTP API server
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" default:"0.0.0.0"`
	Port int    `yaml:"port" env:"HTTP_PORT" default:"8080"`
}

// FetchConfig configures manifest, Thing Model, and app source fetching
type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// AdaptationConfig configures the OTA procedure
type AdaptationConfig struct {
	// ActionTimeout bounds one VFS request/response exchange
	ActionTimeout time.Duration `yaml:"action_timeout" default:"1m"`
}

// Load loads the gateway configuration from the given files plus the
// environment.
func Load(configFile, envFile string) (*Config, error) {
	loader := NewConfigLoader(LoaderConfig{
		ConfigFile:      configFile,
		EnvironmentFile: envFile,
		ServiceName:     "citylink",
	})

	cfg := &Config{}
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for values that would only fail
// later at connect time.
func (c *Config) Validate() error {
	u, err := url.Parse(c.MQTT.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker URL %q: %w", c.MQTT.BrokerURL, err)
	}
	switch u.Scheme {
	case "mqtt", "mqtts", "tcp", "ssl":
	default:
		return fmt.Errorf("unsupported broker URL scheme %q", u.Scheme)
	}

	if c.MQTT.PropertyQoS > 2 || c.MQTT.EventQoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1, or 2")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port %d", c.HTTP.Port)
	}
	return nil
}

// GetListenAddress returns the HTTP listen address
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
