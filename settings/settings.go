// Package settings is the addon's server side settings model: where ComfyUI and its
// plugins are cloned from, extra model directories and the dependency cache.
package settings

import (
	"bytes"
	"encoding/json"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/richinsley/comfy2ayon/errdefs"
)

type RepositorySettings struct {
	URL string `json:"url" yaml:"url"`
	// Tag to check out, latest when empty.
	Tag  string `json:"tag" yaml:"tag"`
	Name string `json:"name" yaml:"name"`
}

// DeriveName sets Name to the stem of the repository URL.
func (r *RepositorySettings) DeriveName() {
	base := path.Base(strings.TrimRight(strings.ReplaceAll(r.URL, `\`, "/"), "/"))
	if base == "." || base == "/" {
		base = ""
	}
	r.Name = strings.TrimSuffix(base, path.Ext(base))
}

type CustomNodeSettings struct {
	RepositorySettings `yaml:",inline"`
	ExtraDependencies  []string `json:"extra_dependencies" yaml:"extra_dependencies"`
}

// custom nodes embed the repository fields flat
func (c *CustomNodeSettings) UnmarshalJSON(b []byte) error {
	var raw struct {
		URL               string   `json:"url"`
		Tag               string   `json:"tag"`
		Name              string   `json:"name"`
		ExtraDependencies []string `json:"extra_dependencies"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.URL, c.Tag, c.Name = raw.URL, raw.Tag, raw.Name
	c.ExtraDependencies = raw.ExtraDependencies
	if c.ExtraDependencies == nil {
		c.ExtraDependencies = []string{}
	}
	return nil
}

type ExtraModelSettingsItem struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Directories to load extra models from; may contain template keys.
	DirTemplates []string `json:"dir_templates" yaml:"dir_templates"`
	CopyToBase   bool     `json:"copy_to_base" yaml:"copy_to_base"`
}

type ExtraModelSettings struct {
	Checkpoints   ExtraModelSettingsItem `json:"checkpoints" yaml:"checkpoints"`
	Clip          ExtraModelSettingsItem `json:"clip" yaml:"clip"`
	ClipVision    ExtraModelSettingsItem `json:"clip_vision" yaml:"clip_vision"`
	Controlnet    ExtraModelSettingsItem `json:"controlnet" yaml:"controlnet"`
	Embeddings    ExtraModelSettingsItem `json:"embeddings" yaml:"embeddings"`
	Loras         ExtraModelSettingsItem `json:"loras" yaml:"loras"`
	UpscaleModels ExtraModelSettingsItem `json:"upscale_models" yaml:"upscale_models"`
	Vae           ExtraModelSettingsItem `json:"vae" yaml:"vae"`
}

// ModelKind pairs a ComfyUI model directory name with its settings.
type ModelKind struct {
	Name string
	Item ExtraModelSettingsItem
}

// Kinds lists the model kinds in a fixed order.
func (s ExtraModelSettings) Kinds() []ModelKind {
	return []ModelKind{
		{"checkpoints", s.Checkpoints},
		{"clip", s.Clip},
		{"clip_vision", s.ClipVision},
		{"controlnet", s.Controlnet},
		{"embeddings", s.Embeddings},
		{"loras", s.Loras},
		{"upscale_models", s.UpscaleModels},
		{"vae", s.Vae},
	}
}

type GeneralSettings struct {
	UseCPU      bool               `json:"use_cpu" yaml:"use_cpu"`
	ExtraModels ExtraModelSettings `json:"extra_models" yaml:"extra_models"`
}

type RepositoriesSettings struct {
	// Where to clone the ComfyUI repository to.
	BaseTemplate string               `json:"base_template" yaml:"base_template"`
	Base         RepositorySettings   `json:"base" yaml:"base"`
	Plugins      []CustomNodeSettings `json:"plugins" yaml:"plugins"`
}

type CachingSettings struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	CacheDirTemplate string `json:"cache_dir_template" yaml:"cache_dir_template"`
}

// AddonSettings is the root of the addon settings.
type AddonSettings struct {
	Repositories RepositoriesSettings `json:"repositories" yaml:"repositories"`
	General      GeneralSettings      `json:"general" yaml:"general"`
	Caching      CachingSettings      `json:"caching" yaml:"caching"`
}

// Defaults returns the settings a fresh install starts with.
func Defaults() AddonSettings {
	s := AddonSettings{
		Repositories: RepositoriesSettings{
			BaseTemplate: "{root[work]}/{project[name]}/comfyui",
			Base: RepositorySettings{
				URL: "https://github.com/comfyanonymous/ComfyUI.git",
				Tag: "v0.2.2",
			},
			Plugins: []CustomNodeSettings{
				{
					RepositorySettings: RepositorySettings{URL: "https://github.com/ltdrdata/ComfyUI-Manager.git"},
					ExtraDependencies:  []string{"pip"},
				},
			},
		},
	}
	s.deriveNames()
	return s
}

func (s *AddonSettings) deriveNames() {
	s.Repositories.Base.DeriveName()
	for i := range s.Repositories.Plugins {
		s.Repositories.Plugins[i].DeriveName()
	}
}

// Parse decodes settings JSON over the defaults. Fields missing from raw keep their
// default value; repository names are always derived from their URLs.
func Parse(raw []byte) (AddonSettings, error) {
	s := Defaults()
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&s); err != nil {
		return AddonSettings{}, errdefs.Invalid("settings.Parse", "%v", err)
	}
	s.deriveNames()
	return s, nil
}

// FromMap is Parse for settings already decoded into a map, as the bundle settings
// endpoint returns them.
func FromMap(m map[string]any) (AddonSettings, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return AddonSettings{}, errdefs.Invalid("settings.FromMap", "%v", err)
	}
	return Parse(raw)
}

// PluginNames returns the derived name of every plugin, in order.
func (s AddonSettings) PluginNames() []string {
	names := make([]string, 0, len(s.Repositories.Plugins))
	for _, p := range s.Repositories.Plugins {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names
}

// ExtraDependencies returns every plugin's extra dependencies once, in first seen order.
func (s AddonSettings) ExtraDependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	for _, p := range s.Repositories.Plugins {
		for _, d := range p.ExtraDependencies {
			d = strings.TrimSpace(d)
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			deps = append(deps, d)
		}
	}
	return deps
}

// YAML renders the settings for humans.
func (s AddonSettings) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSON renders the settings as the server stores them.
func (s AddonSettings) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
