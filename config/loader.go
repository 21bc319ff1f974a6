package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every generic override, e.g. COMFY2AYON_SERVER_LISTEN.
const EnvPrefix = "COMFY2AYON"

// pipelineEnv maps the variables the AYON launcher exports to config keys.
var pipelineEnv = map[string]string{
	"ayon.server_url":      "AYON_SERVER_URL",
	"ayon.api_key":         "AYON_API_KEY",
	"context.project":      "AYON_PROJECT_NAME",
	"context.folder":       "AYON_FOLDER_PATH",
	"context.task":         "AYON_TASK_NAME",
	"context.app":          "AYON_APP_NAME",
	"context.bundle":       "AYON_BUNDLE_NAME",
	"context.workdir":      "AYON_WORKDIR",
	"context.project_root": "AYON_PROJECT_ROOT",
	"context.user":         "USER",
}

// Load reads configuration from an optional YAML file, an optional .env file and the
// environment, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	return LoadWith(v, configFile)
}

// LoadWith is Load on a caller supplied viper instance, so cobra flags can be bound
// before reading.
func LoadWith(v *viper.Viper, configFile string) (*Config, error) {
	loadEnvFile()

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range pipelineEnv {
		// the prefixed variable still wins because BindEnv checks names in order
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("comfy2ayon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "comfy2ayon"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// SetDefaults registers Defaults() on v key by key so that env-only keys unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("ayon.server_url", d.Ayon.ServerURL)
	v.SetDefault("ayon.api_key", d.Ayon.APIKey)
	v.SetDefault("ayon.timeout", d.Ayon.Timeout)

	v.SetDefault("context.project", "")
	v.SetDefault("context.folder", "")
	v.SetDefault("context.task", "")
	v.SetDefault("context.app", "")
	v.SetDefault("context.bundle", "")
	v.SetDefault("context.workdir", "")
	v.SetDefault("context.project_root", "")
	v.SetDefault("context.user", "system")

	v.SetDefault("comfy.address", d.Comfy.Address)
	v.SetDefault("comfy.port", d.Comfy.Port)
	v.SetDefault("comfy.output_dir", d.Comfy.OutputDir)
	v.SetDefault("comfy.launch_shell", d.Comfy.LaunchShell)
	v.SetDefault("comfy.launch_script", d.Comfy.LaunchScript)

	v.SetDefault("publish.template_name", d.Publish.TemplateName)
	v.SetDefault("publish.default_product_type", d.Publish.DefaultProductType)
	v.SetDefault("publish.default_variant", d.Publish.DefaultVariant)
	v.SetDefault("publish.default_task", d.Publish.DefaultTask)
	v.SetDefault("publish.status", d.Publish.Status)
	v.SetDefault("publish.fps", d.Publish.FPS)
	v.SetDefault("publish.resolution_width", d.Publish.ResolutionWidth)
	v.SetDefault("publish.resolution_height", d.Publish.ResolutionHeight)
	v.SetDefault("publish.colorspace", d.Publish.Colorspace)
	v.SetDefault("publish.review_tags", d.Publish.ReviewTags)
	v.SetDefault("publish.variants", d.Publish.Variants)
	v.SetDefault("publish.product_types", d.Publish.ProductTypes)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.watch_outputs", d.Server.WatchOutputs)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
}

// loadEnvFile loads the first .env found in the working directory or the module root.
func loadEnvFile() {
	paths := []string{".env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
