package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Protocols  ProtocolsConfig  `yaml:"protocols"`
	Output     OutputConfig     `yaml:"output"`
	Queues     QueueConfig      `yaml:"queues"`
	Server     ServerConfig     `yaml:"server"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Influx     InfluxConfig     `yaml:"influx"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Stats      StatsConfig      `yaml:"stats"`
}

// InputConfig selects the sample source and radio parameters
type InputConfig struct {
	Device      string   `yaml:"device"`       // capture file or rtltcp://host:port
	Frequencies []string `yaml:"frequencies"`  // e.g. "433.92M"; first is active
	HopInterval int      `yaml:"hop_interval"` // seconds, 0 = stay on first frequency
	SampleRate  int      `yaml:"sample_rate"`
	PPMError    int      `yaml:"ppm_error"`
	Gain        float64  `yaml:"gain"` // dB, 0 = auto
}

// ProtocolsConfig enables or disables decoders by number or name. When
// Enable is non-empty only the listed decoders run.
type ProtocolsConfig struct {
	Enable  []string `yaml:"enable"`
	Disable []string `yaml:"disable"`
}

// OutputConfig selects the local sinks
type OutputConfig struct {
	JSON    bool       `yaml:"json"` // JSON lines on stdout
	CSVPath string     `yaml:"csv_path"`
	Meta    MetaConfig `yaml:"meta"`
}

// MetaConfig toggles the metadata added to every record
type MetaConfig struct {
	Time     bool `yaml:"time"`
	Protocol bool `yaml:"protocol"`
	Level    bool `yaml:"level"` // RSSI/SNR of the packet
}

// QueueConfig bounds the two hand-off queues; both drop oldest when full
type QueueConfig struct {
	PacketDepth  int `yaml:"packet_depth"`
	RecordDepth  int `yaml:"record_depth"`
	DrainTimeout int `yaml:"drain_timeout"` // seconds granted to flush on shutdown
}

// ServerConfig contains the control server settings
type ServerConfig struct {
	Listen string `yaml:"listen"` // empty disables the HTTP server
}

// MQTTConfig contains MQTT publishing settings
type MQTTConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Broker        string        `yaml:"broker"`
	Topic         string        `yaml:"topic"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Retain        bool          `yaml:"retain"`
	StatsInterval int           `yaml:"stats_interval"` // seconds, 0 disables stats topics
	TLS           MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains TLS settings for the MQTT connection
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// InfluxConfig contains InfluxDB v2 line-protocol output settings
type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Token       string `yaml:"token"`
	Measurement string `yaml:"measurement"`
}

// PrometheusConfig toggles the /metrics endpoint
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StatsConfig sets the cadence of the periodic stats log line
type StatsConfig struct {
	Interval int `yaml:"interval"` // seconds, 0 disables
}

// DefaultConfig returns the built-in defaults applied before the config
// file and flags are read.
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Frequencies: []string{"433.92M"},
			SampleRate:  250000,
		},
		Output: OutputConfig{
			JSON: true,
			Meta: MetaConfig{Time: true, Protocol: true},
		},
		Queues: QueueConfig{
			PacketDepth:  64,
			RecordDepth:  256,
			DrainTimeout: 2,
		},
		MQTT: MQTTConfig{
			Topic: "ismdump/events",
		},
		Influx: InfluxConfig{
			Measurement: "ism_event",
		},
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that would otherwise fail deep inside the
// pipeline.
func (c *Config) Validate() error {
	if c.Input.SampleRate <= 0 {
		return fmt.Errorf("input.sample_rate must be positive")
	}
	if len(c.Input.Frequencies) == 0 {
		return fmt.Errorf("input.frequencies must not be empty")
	}
	for _, f := range c.Input.Frequencies {
		if _, err := ParseFrequency(f); err != nil {
			return err
		}
	}
	if c.Queues.PacketDepth <= 0 || c.Queues.RecordDepth <= 0 {
		return fmt.Errorf("queue depths must be positive")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when mqtt is enabled")
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx.url and influx.bucket must be set when influx is enabled")
	}
	return nil
}

// ParseFrequency accepts "433920000", "433.92M" or "868k" style values and
// returns Hz.
func ParseFrequency(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult = 1e6
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult = 1e3
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	hz := v * mult
	if hz < 1e6 || hz > 2e9 {
		return 0, fmt.Errorf("frequency %q out of tuner range", s)
	}
	return uint32(hz), nil
}
