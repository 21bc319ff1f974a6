package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/richinsley/comfy2ayon/anatomy"
	"github.com/richinsley/comfy2ayon/errdefs"
)

// fallbackPrefixTemplate names files when the core product name profiles can't be used.
const fallbackPrefixTemplate = anatomy.Template("{product[type]}{Variant}")

// OutputTarget is the context an output directory or file prefix is computed for.
type OutputTarget struct {
	Project     string
	FolderPath  string
	TaskName    string
	ProductType string
	Variant     string
}

// OutputPath returns root/project/folder/task/productType/variant. The root is the
// configured project root, else the volume of the work directory, else the ComfyUI
// output directory. The project name is not repeated when the root already ends with
// it. Folder and task must exist in AYON.
func (n *NodePublisher) OutputPath(ctx context.Context, t OutputTarget) (string, error) {
	const op = "OutputPath"
	if t.Project == "" || t.FolderPath == "" || t.TaskName == "" {
		return "", errdefs.Configuration(op, "project, folder and task are required")
	}
	if _, err := n.svc.GetFolderByPath(ctx, t.Project, t.FolderPath); err != nil {
		return "", err
	}
	if _, err := n.svc.GetTaskByFolderPath(ctx, t.Project, t.FolderPath, t.TaskName); err != nil {
		return "", err
	}

	root := n.cfg.ProjectRoot
	if root == "" && n.cfg.Workdir != "" {
		root = filepath.VolumeName(n.cfg.Workdir)
	}
	if root == "" {
		root = n.cfg.OutputDir
		n.log.Warn("No AYON project root found, using ComfyUI output directory", map[string]interface{}{"root": root})
	}
	if root == "" {
		return "", errdefs.Configuration(op, "no project root, work directory or output directory configured")
	}
	// a bare drive letter needs its separator
	if len(root) == 2 && root[1] == ':' {
		root += `\`
	}

	folder := strings.TrimLeft(t.FolderPath, "/")
	parts := []string{root}
	if filepath.Base(root) != t.Project {
		parts = append(parts, t.Project)
	}
	parts = append(parts, folder, t.TaskName, t.ProductType, t.Variant)
	return filepath.Join(parts...), nil
}

// FallbackOutputPath is where images go when OutputPath fails.
func (n *NodePublisher) FallbackOutputPath(productType, variant string) string {
	return filepath.Join(n.cfg.OutputDir, "ayon_publish", productType, variant)
}

// OutputPathOrFallback never fails; errors are logged and the fallback returned.
func (n *NodePublisher) OutputPathOrFallback(ctx context.Context, t OutputTarget) string {
	p, err := n.OutputPath(ctx, t)
	if err != nil || p == "" {
		fb := n.FallbackOutputPath(t.ProductType, t.Variant)
		n.log.WithError(err).Warn("Using fallback output path", map[string]interface{}{"path": fb})
		return fb
	}
	return p
}

// ProductNamePrefix solves the first product name profile of the core settings. It
// falls back to product type followed by the capitalised variant.
func (n *NodePublisher) ProductNamePrefix(ctx context.Context, t OutputTarget) string {
	folderName, _ := anatomy.SplitFolderPath(t.FolderPath)
	data := anatomy.Data{
		"project": t.Project,
		"folder":  folderName,
		"task":    t.TaskName,
		"variant": t.Variant,
		"product": map[string]any{"type": t.ProductType},
	}

	tmpl, err := n.productNameTemplate(ctx, t.Project)
	if err == nil {
		var solved string
		solved, err = tmpl.FormatStrict(data)
		if err == nil && solved != "" {
			return solved
		}
	}
	n.log.WithError(err).Debug("Using fallback product name", nil)
	return fallbackPrefixTemplate.Format(data)
}

func (n *NodePublisher) productNameTemplate(ctx context.Context, project string) (anatomy.Template, error) {
	const op = "productNameTemplate"
	settings, err := n.svc.GetBundleSettings(ctx, n.cfg.Bundle, project)
	if err != nil {
		return "", err
	}
	core, ok := settings["core"]
	if !ok {
		return "", errdefs.Configuration(op, "bundle has no core settings")
	}
	tools := cast.ToStringMap(core["tools"])
	creator := cast.ToStringMap(tools["creator"])
	profiles, ok := creator["product_name_profiles"].([]any)
	if !ok || len(profiles) == 0 {
		return "", errdefs.Configuration(op, "no product name profiles")
	}
	tmpl := cast.ToString(cast.ToStringMap(profiles[0])["template"])
	if tmpl == "" {
		return "", errdefs.Configuration(op, "first product name profile has no template")
	}
	return anatomy.Template(tmpl), nil
}

// NextFreeName returns the first <prefix>_<counter:05>.<ext> in dir that does not
// exist yet, with its counter. A stat error other than not-exist stops the search.
func NextFreeName(dir, prefix, ext string) (string, int, error) {
	for counter := 1; ; counter++ {
		p := filepath.Join(dir, fmt.Sprintf("%s_%05d.%s", prefix, counter, ext))
		_, err := os.Stat(p)
		switch {
		case os.IsNotExist(err):
			return p, counter, nil
		case err != nil:
			return "", 0, errdefs.IO("NextFreeName", err, "checking %s", p)
		}
	}
}

// LatestImage returns the most recently modified PNG directly inside dir.
func LatestImage(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return "", errdefs.IO("LatestImage", err, "listing %s", dir)
	}
	var (
		latest string
		newest int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if mt := info.ModTime().UnixNano(); latest == "" || mt > newest {
			latest, newest = m, mt
		}
	}
	if latest == "" {
		return "", errdefs.NotFound("LatestImage", "No images found in ComfyUI output directory")
	}
	return latest, nil
}
