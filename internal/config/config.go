// Package config handles relay configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultModel is the model the relay asks Ollama for when the config
// does not name one.
const DefaultModel = "llama3.2"

// DefaultTemperature is the sampling temperature used when the config
// does not set one.
const DefaultTemperature = 0.7

// DefaultSystemPrompt is the persona sent as the first message of
// every chat turn.
const DefaultSystemPrompt = "You are a helpful AI assistant on Signal. Be concise, friendly, and helpful. Keep responses under 200 words unless asked for more detail."

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/signal-relay/config.yaml, /etc/signal-relay/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "signal-relay", "config.yaml"))
	}

	paths = append(paths, "/etc/signal-relay/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all relay configuration.
type Config struct {
	Signal    SignalConfig `yaml:"signal"`
	Ollama    OllamaConfig `yaml:"ollama"`
	Model     ModelConfig  `yaml:"model"`
	Chat      ChatConfig   `yaml:"chat"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // "text" (default) or "json"
}

// SignalConfig describes how to launch signal-cli.
type SignalConfig struct {
	// Command is the signal-cli executable (default "signal-cli").
	Command string `yaml:"command"`
	// Account is the registered or linked phone number, e.g. "+15551234567".
	Account string `yaml:"account"`
	// Args are extra arguments placed before the jsonRpc subcommand
	// (e.g. "--config", "/var/lib/signal-cli").
	Args []string `yaml:"args"`
	// HandleTimeoutSec bounds the handling of one inbound message,
	// including every inference call it triggers. A model switch may
	// pull a model inside this window (default 2000).
	HandleTimeoutSec int `yaml:"handle_timeout_sec"`
}

// Configured reports whether enough is set to start signal-cli.
func (c SignalConfig) Configured() bool {
	return c.Account != ""
}

// DaemonArgs returns the argument vector that runs signal-cli in
// JSON-RPC mode over stdin/stdout for the configured account.
func (c SignalConfig) DaemonArgs() []string {
	args := append([]string{}, c.Args...)
	return append(args, "-a", c.Account, "jsonRpc")
}

// OllamaConfig defines how to reach the inference service.
type OllamaConfig struct {
	URL            string `yaml:"url"`
	ListTimeoutSec int    `yaml:"list_timeout_sec"` // default 10
	PullTimeoutSec int    `yaml:"pull_timeout_sec"` // default 1800
}

// ModelConfig selects the chat model.
type ModelConfig struct {
	Default string `yaml:"default"`
}

// ChatConfig controls prompt assembly and sampling for chat turns.
type ChatConfig struct {
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature"` // nil means unset; 0 is greedy sampling
	MaxTokens    int      `yaml:"max_tokens"`
	HistoryLimit int      `yaml:"history_limit"` // stored turns per user, must be even
	TimeoutSec   int      `yaml:"timeout_sec"`
}

// SamplingTemperature returns the configured temperature, or 0.7 when
// none was set.
func (c ChatConfig) SamplingTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// MQTTConfig defines the optional status publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file. A .env file next to the
// working directory, if present, is loaded into the environment first
// so ${VAR} references in the YAML can use it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied. Useful
// for tests and for subcommands that run without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Signal.Command == "" {
		c.Signal.Command = "signal-cli"
	}
	if c.Signal.HandleTimeoutSec == 0 {
		c.Signal.HandleTimeoutSec = 2000
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://127.0.0.1:11434"
	}
	if c.Ollama.ListTimeoutSec == 0 {
		c.Ollama.ListTimeoutSec = 10
	}
	if c.Ollama.PullTimeoutSec == 0 {
		c.Ollama.PullTimeoutSec = 1800
	}
	if c.Model.Default == "" {
		c.Model.Default = DefaultModel
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = DefaultSystemPrompt
	}
	if c.Chat.Temperature == nil {
		t := DefaultTemperature
		c.Chat.Temperature = &t
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = 300
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 10
	}
	if c.Chat.TimeoutSec == 0 {
		c.Chat.TimeoutSec = 120
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "signal-relay"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.Chat.HistoryLimit < 2 || c.Chat.HistoryLimit%2 != 0 {
		return fmt.Errorf("chat.history_limit must be a positive even number, got %d", c.Chat.HistoryLimit)
	}
	if t := c.Chat.SamplingTemperature(); t < 0 || t > 2 {
		return fmt.Errorf("chat.temperature must be between 0 and 2, got %g", t)
	}
	if c.Chat.MaxTokens < 0 {
		return fmt.Errorf("chat.max_tokens must not be negative, got %d", c.Chat.MaxTokens)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}
	return nil
}

// ChatTimeout bounds a single chat-completion call.
func (c ChatConfig) ChatTimeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ListTimeout bounds a single model listing call.
func (c OllamaConfig) ListTimeout() time.Duration {
	return time.Duration(c.ListTimeoutSec) * time.Second
}

// PullTimeout bounds a single model download.
func (c OllamaConfig) PullTimeout() time.Duration {
	return time.Duration(c.PullTimeoutSec) * time.Second
}

// HandleTimeout bounds the handling of one inbound message.
func (c SignalConfig) HandleTimeout() time.Duration {
	return time.Duration(c.HandleTimeoutSec) * time.Second
}
