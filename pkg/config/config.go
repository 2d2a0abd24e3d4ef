// Package config provides TOML configuration loading for deskshell.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultDashboardURL is the hosted dashboard the shell opens.
const DefaultDashboardURL = "https://app.theuniqueacademycommerce.com/dashboard"

// DefaultUserAgentSuffix is appended to every window's user agent.
const DefaultUserAgentSuffix = "Unique Academy Desktop Application"

// Config is the top-level configuration structure.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Shell   ShellConfig   `toml:"shell"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Update  UpdateConfig  `toml:"update"`
	Control ControlConfig `toml:"control"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// ShellConfig holds window settings.
type ShellConfig struct {
	DashboardURL      string `toml:"dashboard_url"`
	UserAgentSuffix   string `toml:"user_agent_suffix"`
	Width             int    `toml:"width"`
	Height            int    `toml:"height"`
	ContentProtection *bool  `toml:"content_protection"`
	DevTools          bool   `toml:"dev_tools"`
}

// BridgeConfig holds settings for the local page bridge.
type BridgeConfig struct {
	Listen        string `toml:"listen"`
	MaxConns      int    `toml:"max_conns"`
	Secret        string `toml:"secret"`
	AllowedOrigin string `toml:"allowed_origin"`
}

// UpdateConfig holds settings for the updater.
type UpdateConfig struct {
	FeedURL      string `toml:"feed_url"`
	PublicKey    string `toml:"public_key"`
	Interval     string `toml:"interval"`
	DownloadDir  string `toml:"download_dir"`
	DBPath       string `toml:"db_path"`
	AutoDownload *bool  `toml:"auto_download"`
}

// ControlConfig holds settings for the control socket.
type ControlConfig struct {
	Socket string `toml:"socket"`
}

// ProtectContent reports whether content protection is enabled (default true).
func (s *ShellConfig) ProtectContent() bool {
	return s.ContentProtection == nil || *s.ContentProtection
}

// ShouldAutoDownload reports whether newer releases download automatically (default true).
func (u *UpdateConfig) ShouldAutoDownload() bool {
	return u.AutoDownload == nil || *u.AutoDownload
}

// ParseInterval parses the update check interval string to a time.Duration.
func (u *UpdateConfig) ParseInterval() (time.Duration, error) {
	if u.Interval == "" {
		return 6 * time.Hour, nil
	}
	d, err := time.ParseDuration(u.Interval)
	if err != nil {
		return 0, err
	}
	if d < time.Minute {
		return 0, fmt.Errorf("update interval %s is below 1m", d)
	}
	return d, nil
}

// Origin returns the scheme://host of the dashboard URL, used for CORS.
func (cfg *Config) Origin() string {
	if cfg.Bridge.AllowedOrigin != "" {
		return cfg.Bridge.AllowedOrigin
	}
	u, err := url.Parse(cfg.Shell.DashboardURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		applyDefaults(cfg)
		cfg.expandPaths()
		return cfg, nil
	}
	return cfg, err
}

// LocalPath is checked before the per-user location when no path is given.
const LocalPath = "config.toml"

// ResolvePath returns explicit if set, else ./config.toml if present, else DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(LocalPath); err == nil {
		return LocalPath
	}
	return DefaultPath()
}

// Discover loads the config named by explicit, or the auto-discovered one.
// An explicit path must exist; a missing auto-discovered file yields defaults.
func Discover(explicit string) (*Config, error) {
	path := ResolvePath(explicit)
	if explicit != "" {
		return Load(path)
	}
	return LoadOrDefault(path)
}

// DefaultPath returns the per-user config location.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func (cfg *Config) expandPaths() {
	cfg.Update.DownloadDir = ExpandPath(cfg.Update.DownloadDir)
	cfg.Update.DBPath = ExpandPath(cfg.Update.DBPath)
	cfg.Control.Socket = ExpandPath(cfg.Control.Socket)
	if !strings.HasPrefix(strings.TrimSpace(cfg.Update.PublicKey), "ssh-") {
		cfg.Update.PublicKey = ExpandPath(cfg.Update.PublicKey)
	}
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".deskshell")
	}
	return filepath.Join(dir, "deskshell")
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Shell defaults
	if cfg.Shell.DashboardURL == "" {
		cfg.Shell.DashboardURL = DefaultDashboardURL
	}
	if cfg.Shell.UserAgentSuffix == "" {
		cfg.Shell.UserAgentSuffix = DefaultUserAgentSuffix
	}
	if cfg.Shell.Width == 0 {
		cfg.Shell.Width = 1200
	}
	if cfg.Shell.Height == 0 {
		cfg.Shell.Height = 800
	}

	// Bridge defaults
	if cfg.Bridge.Listen == "" {
		cfg.Bridge.Listen = "127.0.0.1:8765"
	}
	if cfg.Bridge.MaxConns == 0 {
		cfg.Bridge.MaxConns = 32
	}

	// Update defaults
	if cfg.Update.Interval == "" {
		cfg.Update.Interval = "6h"
	}
	if cfg.Update.DownloadDir == "" {
		cfg.Update.DownloadDir = filepath.Join(configDir(), "updates")
	}
	if cfg.Update.DBPath == "" {
		cfg.Update.DBPath = filepath.Join(configDir(), "updates.db")
	}

	// Control defaults
	if cfg.Control.Socket == "" {
		cfg.Control.Socket = filepath.Join(configDir(), "control.sock")
	}
}
