package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/NowakAdmin/BizantiPOS/internal/devices"
)

type APIConfig struct {
	Listen string `json:"listen"`
}

type Config struct {
	ServerURL        string `json:"server_url"`
	WebSocketURL     string `json:"websocket_url"`
	AgentID          string `json:"agent_id,omitempty"`
	AgentToken       string `json:"agent_token"`
	TenantID         string `json:"tenant_id,omitempty"`
	DeviceName       string `json:"device_name,omitempty"`
	HeartbeatSeconds int    `json:"heartbeat_seconds"`

	Scale   devices.ScaleConfig   `json:"scale"`
	Printer devices.PrinterConfig `json:"printer"`
	Receipt devices.ReceiptLayout `json:"receipt"`
	API     APIConfig             `json:"api"`
}

func Default() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		ServerURL:        "https://bizanti.pl",
		WebSocketURL:     "wss://bizanti.pl/agent/ws",
		DeviceName:       hostname,
		HeartbeatSeconds: 30,
		Scale: devices.ScaleConfig{
			Transport: "serial",
			BaudRate:  devices.DefaultBaudRate,
		},
		Printer: devices.PrinterConfig{
			Transport: "usb",
		},
		Receipt: devices.DefaultReceiptLayout(),
		API: APIConfig{
			Listen: "127.0.0.1:8765",
		},
	}
}

func LoadOrCreateDefault() (*Config, error) {
	if _, err := os.Stat(Path()); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if errSave := Save(cfg); errSave != nil {
			return nil, errSave
		}
		return cfg, nil
	}

	return Load()
}

func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config at path. Missing or invalid values fall back to
// the defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err = json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()

	if c.HeartbeatSeconds <= 0 {
		c.HeartbeatSeconds = d.HeartbeatSeconds
	}
	if c.Scale.Transport == "" {
		c.Scale.Transport = d.Scale.Transport
	}
	if c.Scale.BaudRate <= 0 {
		c.Scale.BaudRate = d.Scale.BaudRate
	}
	if c.Printer.Transport == "" {
		c.Printer.Transport = d.Printer.Transport
	}
	if c.API.Listen == "" {
		c.API.Listen = d.API.Listen
	}
}

func Save(cfg *Config) error {
	return SaveTo(Path(), cfg)
}

func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func Dir() string {
	programData := os.Getenv("ProgramData")
	if runtime.GOOS == "windows" {
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return filepath.Join(programData, "BizantiPOS")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}

	return filepath.Join(configDir, "bizanti-pos")
}

func LogDir() string {
	return filepath.Join(Dir(), "logs")
}

func Path() string {
	return filepath.Join(Dir(), "config.json")
}
