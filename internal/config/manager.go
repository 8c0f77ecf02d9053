package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

const (
	appName = "captureexpress"
	// EnvPrefix prefixes environment overrides, CAPTUREEXPRESS_SERVER_PORT
	EnvPrefix = "CAPTUREEXPRESS"
	DefaultPort = 21889
)

// Engine backends
const (
	BackendGst = "gst"
	BackendSim = "sim"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
)

// keys lists every settable key with its type
var keys = map[string]kind{
	"server.host":               kindString,
	"server.port":               kindInt,
	"log_level":                 kindString,
	"log_pretty":                kindString,
	"engine.backend":            kindString,
	"engine.data_dir":           kindString,
	"engine.locale":             kindString,
	"engine.signal_timeout":     kindDuration,
	"volmeter.ping_interval":    kindDuration,
	"volmeter.max_frame_rate":   kindFloat,
	"click_tracker.marker_path": kindString,
	"click_tracker.animation":   kindDuration,
	"history.enabled":           kindBool,
	"history.path":              kindString,
	"inhibit_screensaver":       kindBool,
}

var allowed = map[string][]string{
	"log_level":      {"debug", "info", "warn", "error"},
	"log_pretty":     {"auto", "true", "false"},
	"engine.backend": {BackendGst, BackendSim},
}

// Manager handles configuration loading and saving
type Manager struct {
	mu         sync.RWMutex
	v          *viper.Viper
	configPath string
}

// DefaultPath is $HOME/.config/captureexpress/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appName, "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v); err != nil {
		return nil, err
	}

	m := &Manager{v: v, configPath: path}

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", path).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if _, err := m.decode(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return m, nil
}

func setDefaults(v *viper.Viper) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", "auto")
	v.SetDefault("engine.backend", BackendGst)
	v.SetDefault("engine.data_dir", filepath.Join(homeDir, ".local", "share", appName))
	v.SetDefault("engine.locale", "en-US")
	v.SetDefault("engine.signal_timeout", "10s")
	v.SetDefault("volmeter.ping_interval", "4s")
	v.SetDefault("volmeter.max_frame_rate", 30)
	v.SetDefault("click_tracker.marker_path", "")
	v.SetDefault("click_tracker.animation", "400ms")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("inhibit_screensaver", true)
	return nil
}

func (m *Manager) decode() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns a copy of the effective configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, err := m.decode()
	if err != nil {
		// values are validated on load and Set
		logger.WithComponent("config").Error().Err(err).Msg("Failed to decode config")
		return &Config{}
	}
	return cfg
}

// GetViper exposes the underlying viper instance for flag binding
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Settings returns every key with its effective value, durations as text
func (m *Manager) Settings() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return normalize(m.v.AllSettings())
}

// Keys lists the settable keys in order
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Value returns the effective value for key
func (m *Manager) Value(key string) (any, error) {
	key = strings.ToLower(key)
	if _, ok := keys[key]; !ok {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.v.Get(key).(time.Duration); ok {
		return d.String(), nil
	}
	return m.v.Get(key), nil
}

// Set parses value for key and stores it; call Save to persist
func (m *Manager) Set(key, value string) error {
	key = strings.ToLower(key)
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var parsed any
	switch k {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		if key == "server.port" && (n < 1 || n > 65535) {
			return fmt.Errorf("invalid port number: %s", value)
		}
		parsed = n
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		parsed = f
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		parsed = b
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid duration for %s: %s (e.g. 4s, 400ms)", key, value)
		}
		parsed = d.String()
	default:
		if options, ok := allowed[key]; ok {
			value = strings.ToLower(value)
			if !contains(options, value) {
				return fmt.Errorf("invalid %s: %s (use: %s)", key, value, strings.Join(options, ", "))
			}
		}
		parsed = value
	}

	m.mu.Lock()
	m.v.Set(key, parsed)
	m.mu.Unlock()
	return nil
}

// Save atomically writes the configuration file
func (m *Manager) Save() error {
	data, err := yaml.Marshal(m.Settings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := renameio.WriteFile(m.configPath, data, 0o644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// HistoryPath resolves the session journal location
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Engine.DataDir, "history.db")
}

// LockPath is the single-instance lock file
func (c *Config) LockPath() string {
	return filepath.Join(c.Engine.DataDir, appName+".lock")
}

func normalize(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case map[string]any:
			out[k] = normalize(val)
		case time.Duration:
			out[k] = val.String()
		default:
			out[k] = val
		}
	}
	return out
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
