// Package config loads the host's channel layout
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"softpwm/protocol"
)

// Config is the JSON file read by softpwm-host
type Config struct {
	Serial   SerialConfig    `json:"serial"`
	MQTT     MQTTConfig      `json:"mqtt"`
	Channels []ChannelConfig `json:"channels"`
}

type SerialConfig struct {
	Device        string `json:"device"`
	Baud          int    `json:"baud"`
	ReadTimeoutMs int    `json:"read_timeout_ms"`
}

// MQTTConfig enables the bridge when Broker is set
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Prefix   string `json:"prefix"`
	Username string `json:"username"`
	Password string `json:"password"`
	QoS      byte   `json:"qos"`
}

// ChannelConfig is one soft PWM output. Micros, when set, replaces Duty
// with an absolute pulse width.
type ChannelConfig struct {
	Name   string `json:"name"`
	OID    uint8  `json:"oid"`
	Pin    uint32 `json:"pin"`
	FreqHz uint32 `json:"freq_hz"`
	Duty   uint8  `json:"duty"`
	Micros uint32 `json:"us,omitempty"`
	Active bool   `json:"active"`
}

// LoadConfig parses JSON configuration and fills in defaults
func LoadConfig(jsonData []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyACM0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 250000
	}
	if cfg.Serial.ReadTimeoutMs == 0 {
		cfg.Serial.ReadTimeoutMs = 100
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "softpwm-host"
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "softpwm"
	}

	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if ch.FreqHz == 0 {
			ch.FreqHz = 1000
		}
		if ch.Duty > 100 {
			ch.Duty = 100
		}
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("pwm%d", ch.OID)
		}
	}
}

// Validate rejects duplicate names, oids and pins
func (c *Config) Validate() error {
	names := make(map[string]bool)
	oids := make(map[uint8]bool)
	pins := make(map[uint32]bool)
	for _, ch := range c.Channels {
		if names[ch.Name] {
			return fmt.Errorf("channel %q defined twice", ch.Name)
		}
		if oids[ch.OID] {
			return fmt.Errorf("channel %q: oid %d already used", ch.Name, ch.OID)
		}
		if pins[ch.Pin] {
			return fmt.Errorf("channel %q: pin %d already used", ch.Name, ch.Pin)
		}
		names[ch.Name], oids[ch.OID], pins[ch.Pin] = true, true, true
	}
	return nil
}

// Channel finds a channel by name
func (c *Config) Channel(name string) (*ChannelConfig, bool) {
	for i := range c.Channels {
		if c.Channels[i].Name == name {
			return &c.Channels[i], true
		}
	}
	return nil, false
}

// CRC checksums the oid to pin bindings. The host sends it with
// finalize_config so a reconnect can tell whether the controller still
// holds this layout.
func (c *Config) CRC() uint32 {
	chans := append([]ChannelConfig(nil), c.Channels...)
	sort.Slice(chans, func(i, j int) bool { return chans[i].OID < chans[j].OID })

	var b []byte
	for _, ch := range chans {
		b = append(b, ch.OID, byte(ch.Pin), byte(ch.Pin>>8), byte(ch.Pin>>16), byte(ch.Pin>>24))
	}
	crc := uint32(protocol.CRC16(b))
	// 0 means "not configured" on the controller
	if crc == 0 {
		crc = 0x10000
	}
	return crc
}
