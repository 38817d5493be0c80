package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatPNG = "png"
	FormatEPS = "eps"
)

type PluginConfig struct {
	Name        string   `yaml:"name"`
	Binary      string   `yaml:"binary"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Format      string   `yaml:"format,omitempty"`
	TimeoutSec  *int     `yaml:"timeout_sec,omitempty"`
	VersionArgs []string `yaml:"version_args,omitempty"`
	Flags       []string `yaml:"flags"`
}

func (p PluginConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

type Config struct {
	HomePath       string         `yaml:"home_path"`
	DefaultPlugin  string         `yaml:"default_plugin"`
	Width          int            `yaml:"width"`
	Height         int            `yaml:"height"`
	EvalTimeoutSec int            `yaml:"eval_timeout_sec"`
	Debug          bool           `yaml:"debug"`
	Plugins        []PluginConfig `yaml:"plugins"`
}

func LoadYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.HomePath = expandUserPath(c.HomePath)
	if c.HomePath == "" {
		return errors.New("home_path empty")
	}
	if strings.Contains(c.HomePath, "$") {
		return fmt.Errorf("home_path %q references an unset variable", c.HomePath)
	}
	c.HomePath = strings.TrimRight(c.HomePath, "/")
	if c.HomePath == "" {
		c.HomePath = "/"
	}
	if c.Width < 0 || c.Height < 0 {
		return errors.New("width and height must be >= 0")
	}
	if c.EvalTimeoutSec < 0 {
		return errors.New("eval_timeout_sec must be >= 0 (0 disables timeouts)")
	}

	seen := make(map[string]struct{}, len(c.Plugins))
	for i := range c.Plugins {
		p := c.Plugins[i]
		if p.Name == "" {
			return fmt.Errorf("plugins[%d].name empty", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("plugins[%d].name %q duplicated", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Binary == "" {
			return fmt.Errorf("plugins[%d].binary empty", i)
		}
		if p.TimeoutSec != nil && *p.TimeoutSec < 0 {
			return fmt.Errorf("plugins[%d].timeout_sec must be >= 0", i)
		}
		switch p.Format {
		case "":
			c.Plugins[i].Format = FormatPNG
		case FormatPNG, FormatEPS:
		default:
			return fmt.Errorf("plugins[%d].format %q unsupported", i, p.Format)
		}
		c.Plugins[i].Binary = expandUserPath(p.Binary)
	}

	if c.DefaultPlugin != "" {
		p, ok := c.Plugin(c.DefaultPlugin)
		if !ok {
			return fmt.Errorf("default_plugin %q not listed in plugins", c.DefaultPlugin)
		}
		if !p.IsEnabled() {
			return fmt.Errorf("default_plugin %q is disabled", c.DefaultPlugin)
		}
	}
	return nil
}

func (c *Config) Plugin(name string) (PluginConfig, bool) {
	for _, p := range c.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return PluginConfig{}, false
}

// Timeout resolves the evaluation timeout in seconds for p; 0 means none.
func (c *Config) Timeout(p PluginConfig) int {
	if p.TimeoutSec != nil {
		return *p.TimeoutSec
	}
	return c.EvalTimeoutSec
}

func expandUserPath(p string) string {
	if p == "" {
		return ""
	}
	p = expandEnvKeepUnknown(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

func expandEnvKeepUnknown(s string) string {
	return os.Expand(s, func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if key == "HOME" {
			home, err := os.UserHomeDir()
			if err == nil && home != "" {
				return home
			}
		}
		return "$" + key
	})
}
