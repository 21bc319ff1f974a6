// Package config holds the explicit configuration passed into the publisher, the
// HTTP endpoints and the launcher. It is loaded once at the edge of the program; no
// library package reads the process environment on its own.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top level configuration.
type Config struct {
	Ayon    AyonConfig    `mapstructure:"ayon"`
	Context AppContext    `mapstructure:"context"`
	Comfy   ComfyConfig   `mapstructure:"comfy"`
	Publish PublishConfig `mapstructure:"publish"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// AyonConfig points at the AYON server.
type AyonConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AppContext is the pipeline context ComfyUI was launched in.
type AppContext struct {
	Project     string `mapstructure:"project"`
	Folder      string `mapstructure:"folder"`
	Task        string `mapstructure:"task"`
	App         string `mapstructure:"app"`
	Bundle      string `mapstructure:"bundle"`
	Workdir     string `mapstructure:"workdir"`
	ProjectRoot string `mapstructure:"project_root"`
	User        string `mapstructure:"user"`
}

// ParseApp splits an application name of the form "name/version".
func (c AppContext) ParseApp() (name, version string, err error) {
	if !strings.Contains(c.App, "/") {
		return "", "", fmt.Errorf("app name must be in the format 'app_name/version', got %q", c.App)
	}
	parts := strings.SplitN(c.App, "/", 2)
	return parts[0], parts[1], nil
}

// ComfyConfig describes the local ComfyUI instance.
type ComfyConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	OutputDir    string `mapstructure:"output_dir"`
	LaunchShell  string `mapstructure:"launch_shell"`
	LaunchScript string `mapstructure:"launch_script"`
}

// PublishConfig carries the defaults the publisher applies to every version.
type PublishConfig struct {
	TemplateName       string   `mapstructure:"template_name"`
	DefaultProductType string   `mapstructure:"default_product_type"`
	DefaultVariant     string   `mapstructure:"default_variant"`
	DefaultTask        string   `mapstructure:"default_task"`
	Status             string   `mapstructure:"status"`
	FPS                float64  `mapstructure:"fps"`
	ResolutionWidth    int      `mapstructure:"resolution_width"`
	ResolutionHeight   int      `mapstructure:"resolution_height"`
	Colorspace         string   `mapstructure:"colorspace"`
	ReviewTags         []string `mapstructure:"review_tags"`
	Variants           []string `mapstructure:"variants"`
	ProductTypes       []string `mapstructure:"product_types"`
}

// ServerConfig configures the endpoint server.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WatchOutputs bool          `mapstructure:"watch_outputs"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig controls the read-through cache in front of AYON lookups.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Ayon: AyonConfig{
			ServerURL: "http://localhost:5000",
			Timeout:   30 * time.Second,
		},
		Comfy: ComfyConfig{
			Address:     "127.0.0.1",
			Port:        8188,
			OutputDir:   "output",
			LaunchShell: "bash",
		},
		Publish: PublishConfig{
			TemplateName:       "ComfyUi",
			DefaultProductType: "render",
			DefaultVariant:     "Main",
			DefaultTask:        "main",
			Status:             "Pending review",
			FPS:                24,
			ResolutionWidth:    1920,
			ResolutionHeight:   1080,
			Colorspace:         "sRGB",
			ReviewTags:         []string{"review"},
			Variants:           []string{"Main", "Other"},
			ProductTypes:       []string{"render", "image"},
		},
		Server: ServerConfig{
			Listen:      "127.0.0.1:8189",
			ReadTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
	}
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.Ayon.ServerURL == "" {
		return fmt.Errorf("ayon.server_url is required")
	}
	if c.Ayon.Timeout <= 0 {
		return fmt.Errorf("ayon.timeout must be positive")
	}
	if c.Comfy.Port <= 0 || c.Comfy.Port > 65535 {
		return fmt.Errorf("comfy.port must be between 1 and 65535")
	}
	if c.Publish.TemplateName == "" {
		return fmt.Errorf("publish.template_name is required")
	}
	if c.Publish.DefaultProductType == "" {
		return fmt.Errorf("publish.default_product_type is required")
	}
	return nil
}
