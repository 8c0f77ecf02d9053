package config

import "time"

// Config is the service configuration
type Config struct {
	Server             ServerConfig       `json:"server" yaml:"server" mapstructure:"server"`
	LogLevel           string             `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty          string             `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	Engine             EngineConfig       `json:"engine" yaml:"engine" mapstructure:"engine"`
	Volmeter           VolmeterConfig     `json:"volmeter" yaml:"volmeter" mapstructure:"volmeter"`
	ClickTracker       ClickTrackerConfig `json:"click_tracker" yaml:"click_tracker" mapstructure:"click_tracker"`
	History            HistoryConfig      `json:"history" yaml:"history" mapstructure:"history"`
	InhibitScreensaver bool               `json:"inhibit_screensaver" yaml:"inhibit_screensaver" mapstructure:"inhibit_screensaver"`
}

// ServerConfig is the HTTP control surface address
type ServerConfig struct {
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	Port int    `json:"port" yaml:"port" mapstructure:"port"`
}

// EngineConfig selects and initializes the capture engine
type EngineConfig struct {
	// Backend is "gst" or "sim"
	Backend       string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir       string        `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Locale        string        `json:"locale" yaml:"locale" mapstructure:"locale"`
	SignalTimeout time.Duration `json:"signal_timeout" yaml:"signal_timeout" mapstructure:"signal_timeout"`
}

// VolmeterConfig tunes the live meter websocket
type VolmeterConfig struct {
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval" mapstructure:"ping_interval"`
	MaxFrameRate float64       `json:"max_frame_rate" yaml:"max_frame_rate" mapstructure:"max_frame_rate"`
}

// ClickTrackerConfig controls the click highlight
type ClickTrackerConfig struct {
	// MarkerPath empty means the rendered default marker
	MarkerPath string        `json:"marker_path" yaml:"marker_path" mapstructure:"marker_path"`
	Animation  time.Duration `json:"animation" yaml:"animation" mapstructure:"animation"`
}

// HistoryConfig controls the session journal
type HistoryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// Path empty means <data_dir>/history.db
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}
