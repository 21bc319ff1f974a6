// Package anatomy resolves AYON project anatomy: platform roots, named publish
// templates and the destination paths built from them.
package anatomy

import (
	"runtime"
	"sort"

	"github.com/spf13/cast"

	"github.com/richinsley/comfy2ayon/errdefs"
)

// DefaultTemplateName is the publish template used when none is configured.
const DefaultTemplateName = "ComfyUi"

// Root is one named project root with a path per platform.
type Root struct {
	Name    string
	Windows string
	Linux   string
	Darwin  string
}

// PathFor returns the root path for a GOOS value.
func (r Root) PathFor(goos string) string {
	switch goos {
	case "windows":
		return r.Windows
	case "darwin":
		return r.Darwin
	default:
		return r.Linux
	}
}

// Path returns the root path for the running platform.
func (r Root) Path() string {
	return r.PathFor(runtime.GOOS)
}

// PublishTemplate is a directory and file template pair.
type PublishTemplate struct {
	Name      string
	Directory Template
	File      Template
}

// Anatomy is the part of a project's configuration the publisher needs.
type Anatomy struct {
	Roots     map[string]Root
	Templates map[string]PublishTemplate
}

// ParseAnatomy reads roots and publish templates out of a project config as returned
// by the AYON project endpoint.
func ParseAnatomy(projectConfig map[string]any) (*Anatomy, error) {
	const op = "ParseAnatomy"
	if len(projectConfig) == 0 {
		return nil, errdefs.Configuration(op, "no anatomy data found in project")
	}

	rawRoots, err := cast.ToStringMapE(projectConfig["roots"])
	if err != nil || len(rawRoots) == 0 {
		return nil, errdefs.Configuration(op, "project anatomy has no roots")
	}
	a := &Anatomy{
		Roots:     make(map[string]Root, len(rawRoots)),
		Templates: make(map[string]PublishTemplate),
	}
	for name, raw := range rawRoots {
		paths := cast.ToStringMapString(raw)
		a.Roots[name] = Root{
			Name:    name,
			Windows: paths["windows"],
			Linux:   paths["linux"],
			Darwin:  paths["darwin"],
		}
	}

	templates, err := cast.ToStringMapE(projectConfig["templates"])
	if err != nil {
		return nil, errdefs.Configuration(op, "project anatomy templates are malformed")
	}
	publish, err := cast.ToStringMapE(templates["publish"])
	if err != nil || len(publish) == 0 {
		return nil, errdefs.Configuration(op, "no publish templates found in anatomy data")
	}
	for name, raw := range publish {
		fields := cast.ToStringMapString(raw)
		a.Templates[name] = PublishTemplate{
			Name:      name,
			Directory: Template(fields["directory"]),
			File:      Template(fields["file"]),
		}
	}
	return a, nil
}

// PublishTemplate returns the named publish template. A template without a directory
// is treated as missing.
func (a *Anatomy) PublishTemplate(name string) (PublishTemplate, error) {
	if name == "" {
		name = DefaultTemplateName
	}
	t, ok := a.Templates[name]
	if !ok {
		return PublishTemplate{}, errdefs.Configuration("Anatomy.PublishTemplate",
			"no publish template named %q (have %v)", name, a.templateNames())
	}
	if t.Directory == "" {
		return PublishTemplate{}, errdefs.Configuration("Anatomy.PublishTemplate",
			"publish template %q has no directory", name)
	}
	return t, nil
}

// PublishRoot returns the "publish" root, falling back to "default".
func (a *Anatomy) PublishRoot() (Root, error) {
	for _, name := range []string{"publish", "default"} {
		if r, ok := a.Roots[name]; ok {
			return r, nil
		}
	}
	return Root{}, errdefs.Configuration("Anatomy.PublishRoot", "no publish root found in anatomy data")
}

// RootData maps every root name to its path on goos, the shape {root[work]} expects.
func (a *Anatomy) RootData(goos string) map[string]any {
	out := make(map[string]any, len(a.Roots))
	for name, r := range a.Roots {
		out[name] = r.PathFor(goos)
	}
	return out
}

func (a *Anatomy) templateNames() []string {
	names := make([]string, 0, len(a.Templates))
	for n := range a.Templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
