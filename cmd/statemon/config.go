package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jrtomps/go-statemon/statemon"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RequestAddr    string          `yaml:"request_addr"`
	StateAddr      string          `yaml:"state_addr"`
	LogLevel       string          `yaml:"log_level"`
	WakeInterval   time.Duration   `yaml:"wake_interval"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
	MQTT           MQTTConfig      `yaml:"mqtt"`

	// States are printed, and mirrored, when entered.
	States []string `yaml:"states"`

	// Hooks maps a state to a shell command, run when it is entered.
	Hooks map[string]string `yaml:"hooks"`
}

type ReconnectConfig struct {
	Disabled bool          `yaml:"disabled"`
	Min      time.Duration `yaml:"min"`
	Max      time.Duration `yaml:"max"`
}

type MQTTConfig struct {
	// Broker enables the mirror, e.g. tcp://localhost:1883.
	Broker string `yaml:"broker"`

	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func defaultConfig() *Config {
	return &Config{
		RequestAddr:    `tcp://localhost:5555`,
		StateAddr:      `tcp://localhost:5556`,
		LogLevel:       `info`,
		WakeInterval:   time.Second,
		RequestTimeout: 10 * time.Second,
		Reconnect: ReconnectConfig{
			Min: 100 * time.Millisecond,
			Max: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    `statemon`,
			TopicPrefix: `statemon`,
		},
		States: []string{
			`NotReady`,
			`Readying`,
			`Ready`,
			`Beginning`,
			`Active`,
			`Pausing`,
			`Paused`,
			`Resuming`,
			`Ending`,
			`Failing`,
			`Halted`,
		},
	}
}

// Load reads the YAML config at path, over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == `` {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf(`config %s: %w`, path, err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.RequestAddr == `` {
		errs = append(errs, errors.New(`request_addr is required`))
	}
	if c.StateAddr == `` {
		errs = append(errs, errors.New(`state_addr is required`))
	}
	if c.WakeInterval <= 0 {
		errs = append(errs, fmt.Errorf(`wake_interval must be positive: %s`, c.WakeInterval))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf(`request_timeout must not be negative: %s`, c.RequestTimeout))
	}
	if !c.Reconnect.Disabled && (c.Reconnect.Min <= 0 || c.Reconnect.Max < c.Reconnect.Min) {
		errs = append(errs, fmt.Errorf(`invalid reconnect backoff: %s to %s`, c.Reconnect.Min, c.Reconnect.Max))
	}
	if c.MQTT.Broker != `` && c.MQTT.TopicPrefix == `` {
		errs = append(errs, errors.New(`mqtt.topic_prefix is required`))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) monitorOptions() []statemon.Option {
	options := []statemon.Option{statemon.WithWakeInterval(c.WakeInterval)}
	if c.Reconnect.Disabled {
		options = append(options, statemon.WithReconnect(0, 0))
	} else {
		options = append(options, statemon.WithReconnect(c.Reconnect.Min, c.Reconnect.Max))
	}
	return options
}
