// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package config loads the nephostat YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkndaq/nephostat/pkg/acoem"
)

// Config is the top-level configuration file
type Config struct {
	Log               LogConfig                   `yaml:"log"`
	Data              string                      `yaml:"data"`
	ReportingInterval time.Duration               `yaml:"reporting_interval"`
	Staging           StagingConfig               `yaml:"staging"`
	SFTP              SFTPConfig                  `yaml:"sftp"`
	Redis             RedisConfig                 `yaml:"redis"`
	Metrics           MetricsConfig               `yaml:"metrics"`
	Instruments       map[string]InstrumentConfig `yaml:"instruments"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type StagingConfig struct {
	Path string `yaml:"path"`
}

type SFTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Key             string        `yaml:"key"`
	KnownHosts      string        `yaml:"known_hosts"`
	Remote          string        `yaml:"remote"`
	RemoveOnSuccess bool          `yaml:"remove_on_success"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Enabled reports whether uploads are configured
func (c SFTPConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether record publishing is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// InstrumentConfig describes one nephelometer
type InstrumentConfig struct {
	Type             string          `yaml:"type"`
	SerialNumber     string          `yaml:"serial_number"`
	SerialID         int             `yaml:"serial_id"`
	Protocol         string          `yaml:"protocol"`
	Socket           SocketConfig    `yaml:"socket"`
	Serial           SerialConfig    `yaml:"serial"`
	WebSocket        WebSocketConfig `yaml:"websocket"`
	StagingZip       bool            `yaml:"staging_zip"`
	VerifyChecksum   bool            `yaml:"verify_checksum"`
	LoggedParameters []uint32        `yaml:"logged_parameters"`
}

type SocketConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	Sleep   time.Duration `yaml:"sleep"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type WebSocketConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
}

// Transport returns the configured transport: "tcp", "serial" or "websocket".
// An instrument with none configured returns "".
func (c InstrumentConfig) Transport() string {
	switch {
	case c.Socket.Host != "":
		return "tcp"
	case c.Serial.Port != "":
		return "serial"
	case c.WebSocket.URL != "":
		return "websocket"
	}
	return ""
}

// SessionOptions converts the instrument settings to session options
func (c InstrumentConfig) SessionOptions() (acoem.Options, error) {
	d, err := acoem.ParseDialect(c.Protocol)
	if err != nil {
		return acoem.Options{}, err
	}
	return acoem.Options{
		StationID:      byte(c.SerialID),
		Dialect:        d,
		Timeout:        c.Socket.Timeout,
		SendDelay:      c.Socket.Sleep,
		VerifyChecksum: c.VerifyChecksum,
	}, nil
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Data:              "data",
		ReportingInterval: 10 * time.Minute,
		Staging:           StagingConfig{Path: "staging"},
		SFTP: SFTPConfig{
			Port:    22,
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Channel: "nephostat",
		},
		Metrics: MetricsConfig{
			Addr: ":9108",
		},
		Instruments: map[string]InstrumentConfig{},
	}
}

// LoadConfig reads path on top of DefaultConfig and validates the result
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyInstrumentDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyInstrumentDefaults() {
	for name, inst := range c.Instruments {
		if inst.Protocol == "" {
			inst.Protocol = "acoem"
		}
		if inst.Socket.Timeout == 0 {
			inst.Socket.Timeout = acoem.DefaultTimeout
		}
		if inst.Serial.Baud == 0 {
			inst.Serial.Baud = 38400
		}
		c.Instruments[name] = inst
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if c.ReportingInterval < 0 {
		return fmt.Errorf("reporting_interval must be >= 0")
	}
	if c.SFTP.Enabled() && c.SFTP.Remote == "" {
		return fmt.Errorf("sftp.remote is required when sftp.host is set")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	for name, inst := range c.Instruments {
		if err := validateInstrument(inst); err != nil {
			return fmt.Errorf("instruments.%s: %w", name, err)
		}
	}
	return nil
}

func validateInstrument(inst InstrumentConfig) error {
	if _, err := acoem.ParseDialect(inst.Protocol); err != nil {
		return fmt.Errorf("protocol must be acoem or legacy, got '%s'", inst.Protocol)
	}
	if inst.SerialID < 0 || inst.SerialID > 255 {
		return fmt.Errorf("serial_id must be between 0 and 255")
	}
	if inst.Transport() == "" {
		return fmt.Errorf("one of socket.host, serial.port, or websocket.url is required")
	}
	if inst.Socket.Host != "" && (inst.Socket.Port <= 0 || inst.Socket.Port > 65535) {
		return fmt.Errorf("socket.port must be between 1 and 65535")
	}
	if inst.Socket.Timeout < 0 || inst.Socket.Sleep < 0 {
		return fmt.Errorf("socket.timeout and socket.sleep must be >= 0")
	}
	return nil
}

// Instrument returns the named instrument
func (c *Config) Instrument(name string) (InstrumentConfig, error) {
	inst, ok := c.Instruments[name]
	if !ok {
		return InstrumentConfig{}, fmt.Errorf("instrument %q not configured", name)
	}
	return inst, nil
}

// WriteDefaultConfig writes the default configuration to path
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
