package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ComfyUi", cfg.Publish.TemplateName)
	assert.Equal(t, 8188, cfg.Comfy.Port)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no server", func(c *Config) { c.Ayon.ServerURL = "" }, "ayon.server_url"},
		{"bad timeout", func(c *Config) { c.Ayon.Timeout = 0 }, "ayon.timeout"},
		{"bad port", func(c *Config) { c.Comfy.Port = 70000 }, "comfy.port"},
		{"no template", func(c *Config) { c.Publish.TemplateName = "" }, "publish.template_name"},
		{"no product type", func(c *Config) { c.Publish.DefaultProductType = "" }, "publish.default_product_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseApp(t *testing.T) {
	name, version, err := AppContext{App: "comfyui/0.3.1"}.ParseApp()
	require.NoError(t, err)
	assert.Equal(t, "comfyui", name)
	assert.Equal(t, "0.3.1", version)

	_, _, err = AppContext{App: "comfyui"}.ParseApp()
	assert.Error(t, err)
}

func TestLoadFileAndPipelineEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "comfy2ayon.yaml")
	content := `
ayon:
  server_url: https://ayon.example.com
  timeout: 5s
publish:
  template_name: comfy
server:
  listen: 0.0.0.0:9000
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	t.Setenv("AYON_PROJECT_NAME", "demo")
	t.Setenv("AYON_FOLDER_PATH", "/shots/sh010")
	t.Setenv("AYON_API_KEY", "secret")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "https://ayon.example.com", cfg.Ayon.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.Ayon.Timeout)
	assert.Equal(t, "secret", cfg.Ayon.APIKey)
	assert.Equal(t, "comfy", cfg.Publish.TemplateName)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, "demo", cfg.Context.Project)
	assert.Equal(t, "/shots/sh010", cfg.Context.Folder)
	// untouched keys keep their defaults
	assert.Equal(t, "render", cfg.Publish.DefaultProductType)
	assert.Equal(t, []string{"review"}, cfg.Publish.ReviewTags)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
