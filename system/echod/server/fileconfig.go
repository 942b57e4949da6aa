package server

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/signadot/echod/system/echod/api"
	"github.com/signadot/echod/system/echod/delivery"
)

// DefaultBufferSize is the receive buffer size, and so the largest
// message a single read can produce.
const DefaultBufferSize = 65536

// DefaultFanout bounds the number of concurrent sends of one broadcast.
const DefaultFanout = 16

// Config represents the echod server configuration file structure.
type Config struct {
	// Mode is one of none, echo or broadcast.
	Mode string `yaml:"mode"`

	// Address is the IP to bind. Empty binds all addresses.
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// IncludeSelf makes broadcasts go back to the sender as well.
	// Unset means true.
	IncludeSelf *bool `yaml:"includeSelf"`

	BufferSize int `yaml:"bufferSize"`
	Fanout     int `yaml:"fanout"`

	// Filter is an optional expression over mode, sender, remote, size
	// and text; messages for which it is false are not delivered.
	Filter string `yaml:"filter"`
}

// LoadConfig loads a YAML configuration file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
// Port has no default and must be set.
func DefaultConfig() *Config {
	return &Config{
		Mode:       api.ModeNone.String(),
		BufferSize: DefaultBufferSize,
		Fanout:     DefaultFanout,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return api.NewError(api.CodeConfig, fmt.Sprintf("port must be in 1..65535, got %d", c.Port), nil)
	}
	if _, err := api.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Address != "" && net.ParseIP(c.Address) == nil {
		return api.NewError(api.CodeConfig, fmt.Sprintf("not a valid network address: %q", c.Address), nil)
	}
	if c.BufferSize <= 0 {
		return api.NewError(api.CodeConfig, fmt.Sprintf("bufferSize must be positive, got %d", c.BufferSize), nil)
	}
	if c.Fanout <= 0 {
		return api.NewError(api.CodeConfig, fmt.Sprintf("fanout must be positive, got %d", c.Fanout), nil)
	}
	if _, err := delivery.CompileFilter(c.Filter); err != nil {
		return api.NewError(api.CodeConfig, "invalid filter", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// DeliveryMode returns the parsed mode, ModeNone if it does not parse.
func (c *Config) DeliveryMode() api.Mode {
	m, _ := api.ParseMode(c.Mode)
	return m
}

// Policy returns the delivery policy described by the config.
func (c *Config) Policy() delivery.Policy {
	p := delivery.DefaultPolicy(c.DeliveryMode())
	if c.IncludeSelf != nil {
		p.IncludeSelf = *c.IncludeSelf
	}
	return p
}
