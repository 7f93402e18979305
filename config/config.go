// Package config loads the agent's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nedpals/davi-device-agent/ble"
	"github.com/nedpals/davi-device-agent/buildinfo"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the user config directory.
const FileName = "config.yaml"

// Duration is a time.Duration that reads and writes "1.5s" style strings.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

type Server struct {
	Port      int    `yaml:"port"`
	APISecret string `yaml:"apiSecret,omitempty"`
	MDNS      bool   `yaml:"mdns"`
	TLS       bool   `yaml:"tls"`
}

type NFC struct {
	// Device is a libnfc connection string. Empty picks the first reader.
	Device       string   `yaml:"device,omitempty"`
	PollInterval Duration `yaml:"pollInterval"`
}

type SmartCard struct {
	Reader      string   `yaml:"reader,omitempty"`
	PollTimeout Duration `yaml:"pollTimeout"`
}

type BLE struct {
	CompanyID   uint16   `yaml:"companyID"`
	Payload     string   `yaml:"payload"`
	LocalName   string   `yaml:"localName,omitempty"`
	MinRSSI     int16    `yaml:"minRSSI,omitempty"`
	ScanTimeout Duration `yaml:"scanTimeout,omitempty"`
}

type Status struct {
	MaxLines int    `yaml:"maxLines"`
	Journal  string `yaml:"journal,omitempty"`
}

// Config is the whole configuration file.
type Config struct {
	Server    Server    `yaml:"server"`
	NFC       NFC       `yaml:"nfc"`
	SmartCard SmartCard `yaml:"smartcard"`
	BLE       BLE       `yaml:"ble"`
	Status    Status    `yaml:"status"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Port: 18080,
			MDNS: true,
		},
		NFC: NFC{
			PollInterval: Duration(100 * time.Millisecond),
		},
		SmartCard: SmartCard{
			PollTimeout: Duration(time.Second),
		},
		BLE: BLE{
			CompanyID: ble.DefaultCompanyID,
			Payload:   "1234",
			LocalName: "davi",
		},
		Status: Status{
			MaxLines: 200,
		},
	}
}

// Dir returns the per-user config directory for the agent.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config directory: %w", err)
	}
	return filepath.Join(base, buildinfo.DirName), nil
}

// DefaultPath returns Dir()/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads path over the defaults. A missing file yields the defaults
// unless required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ranges and the beacon payload.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.NFC.PollInterval <= 0 {
		errs = append(errs, errors.New("nfc.pollInterval must be positive"))
	}
	if c.SmartCard.PollTimeout <= 0 {
		errs = append(errs, errors.New("smartcard.pollTimeout must be positive"))
	}
	if payload, err := c.BLE.PayloadBytes(); err != nil {
		errs = append(errs, fmt.Errorf("ble.payload: %w", err))
	} else if err := ble.CheckPayload(payload, c.BLE.LocalName); err != nil {
		errs = append(errs, fmt.Errorf("ble.payload: %w", err))
	}
	if c.BLE.MinRSSI > 0 {
		errs = append(errs, fmt.Errorf("ble.minRSSI %d must be negative dBm", c.BLE.MinRSSI))
	}
	if c.BLE.ScanTimeout < 0 {
		errs = append(errs, errors.New("ble.scanTimeout cannot be negative"))
	}
	if c.Status.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("status.maxLines %d must be at least 1", c.Status.MaxLines))
	}
	return errors.Join(errs...)
}

// PayloadBytes decodes the beacon payload hex.
func (b BLE) PayloadBytes() ([]byte, error) {
	return ble.ParsePayload(b.Payload)
}

// ManufacturerData combines company ID and payload.
func (b BLE) ManufacturerData() (ble.ManufacturerData, error) {
	payload, err := b.PayloadBytes()
	if err != nil {
		return ble.ManufacturerData{}, err
	}
	return ble.ManufacturerData{CompanyID: b.CompanyID, Data: payload}, nil
}
