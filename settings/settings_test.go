package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/richinsley/comfy2ayon/errdefs"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, "{root[work]}/{project[name]}/comfyui", s.Repositories.BaseTemplate)
	assert.Equal(t, "https://github.com/comfyanonymous/ComfyUI.git", s.Repositories.Base.URL)
	assert.Equal(t, "v0.2.2", s.Repositories.Base.Tag)
	assert.Equal(t, "ComfyUI", s.Repositories.Base.Name)
	require.Len(t, s.Repositories.Plugins, 1)
	assert.Equal(t, "ComfyUI-Manager", s.Repositories.Plugins[0].Name)
	assert.Equal(t, []string{"pip"}, s.Repositories.Plugins[0].ExtraDependencies)
	assert.False(t, s.General.UseCPU)
	assert.False(t, s.Caching.Enabled)

	raw, err := s.JSON()
	require.NoError(t, err)
	assert.NoError(t, Validate(raw))
}

func TestDeriveName(t *testing.T) {
	tests := map[string]string{
		"https://github.com/a/Custom-Nodes.git":  "Custom-Nodes",
		"https://github.com/a/Custom-Nodes":      "Custom-Nodes",
		"https://github.com/a/Custom-Nodes.git/": "Custom-Nodes",
		`C:\repos\local.git`:                     "local",
		"":                                       "",
	}
	for url, want := range tests {
		r := RepositorySettings{URL: url, Name: "stale"}
		r.DeriveName()
		assert.Equal(t, want, r.Name, url)
	}
}

func TestParseOverDefaults(t *testing.T) {
	s, err := Parse([]byte(`{
		"repositories": {
			"plugins": [
				{"url": "https://github.com/x/Nodes-A.git", "name": "ignored", "extra_dependencies": ["numpy", "pip"]},
				{"url": "https://github.com/x/Nodes-B.git", "tag": "1.0", "extra_dependencies": ["numpy"]}
			]
		},
		"general": {"use_cpu": true, "extra_models": {"loras": {"enabled": true, "dir_templates": ["/models/loras"]}}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "v0.2.2", s.Repositories.Base.Tag)
	assert.Equal(t, []string{"Nodes-A", "Nodes-B"}, s.PluginNames())
	assert.Equal(t, []string{"numpy", "pip"}, s.ExtraDependencies())
	assert.True(t, s.General.UseCPU)
	assert.True(t, s.General.ExtraModels.Loras.Enabled)

	kinds := s.General.ExtraModels.Kinds()
	require.Len(t, kinds, 8)
	assert.Equal(t, "checkpoints", kinds[0].Name)
	assert.Equal(t, "loras", kinds[5].Name)
	assert.Equal(t, []string{"/models/loras"}, kinds[5].Item.DirTemplates)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`{"general": `))
	assert.True(t, errdefs.IsInvalid(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		ok   bool
	}{
		{"empty", `{}`, true},
		{"wrong type", `{"general": {"use_cpu": "yes"}}`, false},
		{"plugin without url", `{"repositories": {"plugins": [{"tag": "x"}]}}`, false},
		{"unknown model kind", `{"general": {"extra_models": {"unet": {}}}}`, false},
		{"model item", `{"general": {"extra_models": {"vae": {"enabled": true, "copy_to_base": true}}}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.doc))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errdefs.IsInvalid(err))
		})
	}
}

func TestParseValid(t *testing.T) {
	_, err := ParseValid([]byte(`{"caching": {"enabled": 1}}`))
	assert.Error(t, err)

	s, err := ParseValid([]byte(`{"caching": {"enabled": true, "cache_dir_template": "/tmp/cache"}}`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cache", s.Caching.CacheDirTemplate)
}

func TestFromMap(t *testing.T) {
	s, err := FromMap(map[string]any{
		"general": map[string]any{"use_cpu": true},
	})
	require.NoError(t, err)
	assert.True(t, s.General.UseCPU)
	assert.Equal(t, "ComfyUI", s.Repositories.Base.Name)
}

func TestYAML(t *testing.T) {
	out, err := Defaults().YAML()
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	repos := back["repositories"].(map[string]any)
	plugins := repos["plugins"].([]any)
	first := plugins[0].(map[string]any)
	assert.Equal(t, "ComfyUI-Manager", first["name"])
	assert.Equal(t, []any{"pip"}, first["extra_dependencies"])
}
