package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHubName        = "relayhub"
	DefaultTCPListen      = "0.0.0.0:8888"
	DefaultDBPath         = "data/relayhub.db"
	DefaultInboundRate    = 50.0
	DefaultInboundBurst   = 20
	DefaultRouteTimeout   = 10 * time.Second
	DefaultBackoffInitial = time.Second
	DefaultBackoffMax     = time.Minute
	DefaultMaxClients     = 16
	DefaultMQTTRoot       = "mesh"
	DefaultLogLevel       = "info"
	DefaultTransport      = "tcp"
)

// Config holds hub and viewer settings. Either section may be omitted.
type Config struct {
	Hub    *HubConfig    `yaml:"hub,omitempty"`
	Viewer *ViewerConfig `yaml:"viewer,omitempty"`
}

// HubConfig is used by the hub process.
type HubConfig struct {
	Name       string `yaml:"name"`
	TCPListen  string `yaml:"tcp_listen"`
	WSListen   string `yaml:"ws_listen,omitempty"`
	HTTPListen string `yaml:"http_listen,omitempty"`
	DBPath     string `yaml:"db_path"`
	Advertise  bool   `yaml:"advertise"`
	MaxClients int    `yaml:"max_clients"`
	LogLevel   string `yaml:"log_level"`
	MCP        bool   `yaml:"mcp"`

	InboundRate  float64       `yaml:"inbound_rate"`
	InboundBurst int           `yaml:"inbound_burst"`
	RouteTimeout time.Duration `yaml:"route_timeout"`

	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	Serial *SerialConfig `yaml:"serial,omitempty"`
	MQTT   *MQTTConfig   `yaml:"mqtt,omitempty"`
}

// SerialConfig enables the RF backend over a serial dongle.
type SerialConfig struct {
	Device string `yaml:"device"`
}

// MQTTConfig enables the mesh backend through an MQTT bridge.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Root     string `yaml:"root"`
}

// ViewerConfig is used by a viewer process.
type ViewerConfig struct {
	Hub       string `yaml:"hub,omitempty"`     // advertised hub name
	Address   string `yaml:"address,omitempty"` // host:port, skips discovery
	Transport string `yaml:"transport"`         // tcp or websocket
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Hub == nil && cfg.Viewer == nil {
		return fmt.Errorf("config must contain hub or viewer section")
	}
	if h := cfg.Hub; h != nil {
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("hub.name is required")
		}
		if h.TCPListen == "" && h.WSListen == "" {
			return fmt.Errorf("hub needs tcp_listen or ws_listen")
		}
		if h.BackoffMax < h.BackoffInitial {
			return fmt.Errorf("hub.backoff_max must not be below hub.backoff_initial")
		}
		if h.MQTT != nil && h.MQTT.Broker == "" {
			return fmt.Errorf("hub.mqtt.broker is required")
		}
		if h.Serial != nil && h.Serial.Device == "" {
			return fmt.Errorf("hub.serial.device is required")
		}
	}
	if v := cfg.Viewer; v != nil {
		if v.Hub == "" && v.Address == "" {
			return fmt.Errorf("viewer.hub or viewer.address is required")
		}
		if v.Transport != "tcp" && v.Transport != "websocket" {
			return fmt.Errorf("viewer.transport must be tcp or websocket, got %q", v.Transport)
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if h := cfg.Hub; h != nil {
		if h.Name == "" {
			h.Name = DefaultHubName
		}
		if h.TCPListen == "" && h.WSListen == "" {
			h.TCPListen = DefaultTCPListen
		}
		if h.DBPath == "" {
			h.DBPath = DefaultDBPath
		}
		if h.MaxClients == 0 {
			h.MaxClients = DefaultMaxClients
		}
		if h.LogLevel == "" {
			h.LogLevel = DefaultLogLevel
		}
		if h.InboundRate == 0 {
			h.InboundRate = DefaultInboundRate
		}
		if h.InboundBurst == 0 {
			h.InboundBurst = DefaultInboundBurst
		}
		if h.RouteTimeout == 0 {
			h.RouteTimeout = DefaultRouteTimeout
		}
		if h.BackoffInitial == 0 {
			h.BackoffInitial = DefaultBackoffInitial
		}
		if h.BackoffMax == 0 {
			h.BackoffMax = DefaultBackoffMax
		}
		if h.MQTT != nil && h.MQTT.Root == "" {
			h.MQTT.Root = DefaultMQTTRoot
		}
		if h.MQTT != nil && h.MQTT.ClientID == "" {
			h.MQTT.ClientID = h.Name
		}
	}

	if v := cfg.Viewer; v != nil {
		if v.Transport == "" {
			v.Transport = DefaultTransport
		}
		if v.LogLevel == "" {
			v.LogLevel = DefaultLogLevel
		}
	}
}

// Level maps a config log level to slog.
func Level(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
