package anatomy

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/logger"
)

// FramePlaceholder stands in for "any frame" in a sequence's stored template path.
const FramePlaceholder = "####"

const separators = "_.-"

// PathRequest identifies one file to publish.
type PathRequest struct {
	ProjectName      string
	ProjectCode      string
	FolderPath       string
	TaskName         string
	ProductName      string
	ProductType      string
	Representation   string
	Ext              string
	Version          int
	Frame            string
	UDIM             string
	Output           string
	OriginalBasename string
}

// VersionString formats a version number the way publish templates expect, v003.
func VersionString(v int) string {
	return fmt.Sprintf("v%03d", v)
}

// FrameString formats a frame number for a file name.
func FrameString(f int) string {
	return fmt.Sprintf("%04d", f)
}

// Resolver turns PathRequests into destination paths using one publish template.
type Resolver struct {
	anatomy      *Anatomy
	templateName string
	goos         string
	log          logger.Logger
}

// NewResolver returns a Resolver for the named publish template.
func NewResolver(a *Anatomy, templateName string, log logger.Logger) *Resolver {
	if templateName == "" {
		templateName = DefaultTemplateName
	}
	return &Resolver{anatomy: a, templateName: templateName, goos: runtime.GOOS, log: log}
}

// WithPlatform returns a copy of r resolving roots for goos.
func (r *Resolver) WithPlatform(goos string) *Resolver {
	c := *r
	c.goos = goos
	return &c
}

// Data builds the template data for req.
func (r *Resolver) Data(req PathRequest) (Data, error) {
	root, err := r.anatomy.PublishRoot()
	if err != nil {
		return nil, err
	}
	rootPath := root.PathFor(r.goos)
	if rootPath == "" {
		return nil, errdefs.Configuration("Resolver.Data", "root %q has no path for %s", root.Name, r.goos)
	}
	roots := r.anatomy.RootData(r.goos)
	roots["publish"] = rootPath

	code := req.ProjectCode
	if code == "" {
		code = req.ProjectName
		if len(code) > 3 {
			code = code[:3]
		}
	}
	ext := req.Ext
	if ext == "" {
		ext = req.Representation
	}
	folderName, hierarchy := SplitFolderPath(req.FolderPath)

	return Data{
		"root":             roots,
		"project":          map[string]any{"name": req.ProjectName, "code": code},
		"folder":           map[string]any{"name": folderName, "path": req.FolderPath},
		"hierarchy":        hierarchy,
		"task":             map[string]any{"name": req.TaskName},
		"product":          map[string]any{"name": req.ProductName, "type": req.ProductType},
		"version":          VersionString(req.Version),
		"frame":            req.Frame,
		"udim":             req.UDIM,
		"output":           req.Output,
		"representation":   req.Representation,
		"ext":              ext,
		"originalBasename": req.OriginalBasename,
	}, nil
}

// Resolve returns the absolute destination path for req and creates its directory.
func (r *Resolver) Resolve(req PathRequest) (string, error) {
	tmpl, err := r.anatomy.PublishTemplate(r.templateName)
	if err != nil {
		return "", err
	}
	data, err := r.Data(req)
	if err != nil {
		return "", err
	}
	ext := data["ext"].(string)
	p, err := ResolvePath(tmpl, data, ext)
	if err != nil {
		return "", err
	}
	if r.log != nil {
		r.log.Debug("resolved publish path", map[string]interface{}{
			"template": tmpl.Name,
			"path":     p,
		})
	}
	return p, nil
}

// TemplatePath renders the path of a sequence with FramePlaceholder in place of the
// frame number. No directory is created.
func (r *Resolver) TemplatePath(req PathRequest) (string, error) {
	tmpl, err := r.anatomy.PublishTemplate(r.templateName)
	if err != nil {
		return "", err
	}
	req.Frame = FramePlaceholder
	data, err := r.Data(req)
	if err != nil {
		return "", err
	}
	dir, file, err := render(tmpl, data, data["ext"].(string))
	if err != nil {
		return "", err
	}
	return absClean(filepath.Join(dir, file))
}

// ResolvePath formats tmpl against data, tidies the file name and creates the
// directory. ext is the extension used to collapse a doubled ".ext.ext" suffix.
func ResolvePath(tmpl PublishTemplate, data Data, ext string) (string, error) {
	dir, file, err := render(tmpl, data, ext)
	if err != nil {
		return "", err
	}
	full, err := absClean(filepath.Join(dir, file))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errdefs.IO("ResolvePath", err, "creating %s", filepath.Dir(full))
	}
	return full, nil
}

func render(tmpl PublishTemplate, data Data, ext string) (string, string, error) {
	if tmpl.Directory == "" {
		return "", "", errdefs.Configuration("ResolvePath", "publish template %q has no directory", tmpl.Name)
	}
	dir, err := tmpl.Directory.FormatStrict(data)
	if err != nil {
		return "", "", err
	}

	fileTmpl := Template(CollapseSeparators(ExpandOptional(string(tmpl.File), data)))
	file, err := fileTmpl.FormatStrict(data)
	if err != nil {
		return "", "", err
	}
	file = CollapseSeparators(file)
	if ext != "" {
		double := "." + ext + "." + ext
		if strings.HasSuffix(file, double) {
			file = strings.TrimSuffix(file, double) + "." + ext
		}
	}
	if file == "" {
		return "", "", errdefs.Configuration("ResolvePath", "publish template %q produced an empty file name", tmpl.Name)
	}
	return dir, file, nil
}

// CollapseSeparators squeezes runs of the same separator character to one and trims
// separators from both ends.
func CollapseSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, c := range s {
		if c == prev && strings.ContainsRune(separators, c) {
			continue
		}
		b.WriteRune(c)
		prev = c
	}
	return strings.Trim(b.String(), separators)
}

// SplitFolderPath returns the last element of an AYON folder path and the parents
// above it joined with "/".
func SplitFolderPath(folderPath string) (name, hierarchy string) {
	trimmed := strings.Trim(folderPath, "/")
	if trimmed == "" {
		return "", ""
	}
	name = path.Base(trimmed)
	if parent := path.Dir(trimmed); parent != "." {
		hierarchy = parent
	}
	return name, hierarchy
}

func absClean(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errdefs.IO("ResolvePath", err, "making %s absolute", p)
	}
	return abs, nil
}
