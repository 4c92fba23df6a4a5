// Package config handles daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const DefaultPath = "/etc/btreceiverd/config.json"

// Config is the daemon configuration. Zero values are replaced by defaults
// on Load.
type Config struct {
	Port    int    `json:"port"`
	LogFile string `json:"log_file"`
	Debug   bool   `json:"debug"`

	// Bluetooth
	Adapter     string   `json:"adapter"`
	DBusTimeout Duration `json:"dbus_timeout"`
	AgentPath   string   `json:"agent_path"`

	// Audio
	MixerCard     string   `json:"mixer_card"`
	MixerControls []string `json:"mixer_controls"`
	AudioDevice   string   `json:"audio_device"`
	SinkUnit      string   `json:"sink_unit"`
	RestartUnits  []string `json:"restart_units"`

	// USB playback
	MountRoot    string   `json:"mount_root"`
	PollInterval Duration `json:"poll_interval"`
	StateDir     string   `json:"state_dir"`

	// Network
	Interface  string `json:"interface"`
	FallbackIP string `json:"fallback_ip"`
	UplinkHost string `json:"uplink_host"`
	MDNSName   string `json:"mdns_name"`
}

// Duration is a time.Duration that reads "3s" style strings from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Port:          80,
		LogFile:       "/var/log/btreceiverd.log",
		Adapter:       "hci0",
		DBusTimeout:   Duration{3 * time.Second},
		AgentPath:     "/org/bluez/AutoPairAgent",
		MixerControls: []string{"Master", "PCM", "Speaker", "Headphone"},
		AudioDevice:   "plughw:Headphones",
		SinkUnit:      "bluealsa-aplay.service",
		RestartUnits:  []string{"bluetooth.service", "bluealsa.service"},
		MountRoot:     "/media/usb",
		PollInterval:  Duration{5 * time.Second},
		StateDir:      "/var/lib/btreceiverd",
		Interface:     "wlan0",
		FallbackIP:    "192.168.4.1",
		UplinkHost:    "1.1.1.1",
		MDNSName:      "Bluetooth Audio Receiver",
	}
}

// Load reads the configuration at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.merge(&file)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge copies every non-zero field of o into c.
func (c *Config) merge(o *Config) {
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	c.Debug = c.Debug || o.Debug
	if o.Adapter != "" {
		c.Adapter = o.Adapter
	}
	if o.DBusTimeout.Duration != 0 {
		c.DBusTimeout = o.DBusTimeout
	}
	if o.AgentPath != "" {
		c.AgentPath = o.AgentPath
	}
	if o.MixerCard != "" {
		c.MixerCard = o.MixerCard
	}
	if len(o.MixerControls) > 0 {
		c.MixerControls = o.MixerControls
	}
	if o.AudioDevice != "" {
		c.AudioDevice = o.AudioDevice
	}
	if o.SinkUnit != "" {
		c.SinkUnit = o.SinkUnit
	}
	if len(o.RestartUnits) > 0 {
		c.RestartUnits = o.RestartUnits
	}
	if o.MountRoot != "" {
		c.MountRoot = o.MountRoot
	}
	if o.PollInterval.Duration != 0 {
		c.PollInterval = o.PollInterval
	}
	if o.StateDir != "" {
		c.StateDir = o.StateDir
	}
	if o.Interface != "" {
		c.Interface = o.Interface
	}
	if o.FallbackIP != "" {
		c.FallbackIP = o.FallbackIP
	}
	if o.UplinkHost != "" {
		c.UplinkHost = o.UplinkHost
	}
	if o.MDNSName != "" {
		c.MDNSName = o.MDNSName
	}
}

// Validate reports configuration values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBusTimeout.Duration <= 0 {
		return fmt.Errorf("dbus_timeout must be positive")
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MountRoot == "" {
		return fmt.Errorf("mount_root is required")
	}
	return nil
}
