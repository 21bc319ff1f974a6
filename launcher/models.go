package launcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/richinsley/comfy2ayon/anatomy"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/publish"
)

const (
	extraModelPathsFile = "extra_model_paths.yaml"
	extraModelsSection  = "comfyui"
)

// ExtraModelDirs solves the directory templates of every enabled model kind and keeps
// the ones that exist.
func (l *Launcher) ExtraModelDirs() (map[string][]string, error) {
	out := make(map[string][]string)
	for _, kind := range l.Settings.General.ExtraModels.Kinds() {
		if !kind.Item.Enabled {
			continue
		}
		for _, tmpl := range kind.Item.DirTemplates {
			dir, err := anatomy.Template(tmpl).FormatStrict(l.TemplateData)
			if err != nil {
				return nil, errdefs.Configuration("Launcher.ExtraModelDirs", "solving %s dir template: %v", kind.Name, err)
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				l.log.Warn("Extra model directory does not exist", map[string]interface{}{"kind": kind.Name, "dir": dir})
				continue
			}
			out[kind.Name] = append(out[kind.Name], filepath.ToSlash(dir))
		}
	}
	return out, nil
}

// ConfigureExtraModels makes the extra model directories visible to ComfyUI. Kinds with
// copy_to_base are copied under models/; the rest are referenced from
// extra_model_paths.yaml.
func (l *Launcher) ConfigureExtraModels() error {
	dirs, err := l.ExtraModelDirs()
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return nil
	}

	referenced := make(map[string][]string)
	for _, kind := range l.Settings.General.ExtraModels.Kinds() {
		kindDirs, ok := dirs[kind.Name]
		if !ok {
			continue
		}
		if !kind.Item.CopyToBase {
			referenced[kind.Name] = kindDirs
			continue
		}
		dest := filepath.Join(l.ComfyRoot, "models", kind.Name)
		for _, src := range kindDirs {
			l.log.Info("Copying extra models", map[string]interface{}{"kind": kind.Name, "from": src, "to": dest})
			if err := copyTree(filepath.FromSlash(src), dest); err != nil {
				return err
			}
		}
	}
	if len(referenced) == 0 {
		return nil
	}
	return l.referenceExtraModels(referenced)
}

// referenceExtraModels merges a comfyui section into extra_model_paths.yaml, keeping
// every other section of the file.
func (l *Launcher) referenceExtraModels(dirs map[string][]string) error {
	const op = "Launcher.referenceExtraModels"
	configFile := filepath.Join(l.ComfyRoot, extraModelPathsFile)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		example := configFile + ".example"
		if _, err := os.Stat(example); err == nil {
			if err := publish.CopyFile(example, configFile); err != nil {
				return err
			}
		}
	}

	doc := map[string]any{}
	if raw, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return errdefs.Invalid(op, "parsing %s: %v", configFile, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	} else if !os.IsNotExist(err) {
		return errdefs.IO(op, err, "reading %s", configFile)
	}

	section := map[string]any{"base_path": ""}
	for kind, kindDirs := range dirs {
		section[kind] = strings.Join(kindDirs, "\n")
	}
	doc[extraModelsSection] = section
	l.log.Info("Referencing extra models", map[string]interface{}{"file": configFile, "kinds": len(dirs)})

	out, err := yaml.Marshal(doc)
	if err != nil {
		return errdefs.Invalid(op, "encoding %s: %v", configFile, err)
	}
	if err := os.MkdirAll(l.ComfyRoot, 0o755); err != nil {
		return errdefs.IO(op, err, "creating %s", l.ComfyRoot)
	}
	if err := os.WriteFile(configFile, out, 0o644); err != nil {
		return errdefs.IO(op, err, "writing %s", configFile)
	}
	return nil
}

// copyTree copies the files under src into dest. Files already present are kept.
func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errdefs.IO("copyTree", err, "walking %s", src)
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errdefs.IO("copyTree", err, "creating %s", target)
			}
			return nil
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		return publish.CopyFile(p, target)
	})
}
