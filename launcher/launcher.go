// Package launcher prepares a ComfyUI installation for a project and starts it: the
// base repository and custom nodes are cloned at their configured tags, extra model
// directories are wired in and the launch script is run.
package launcher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/richinsley/comfy2ayon/anatomy"
	"github.com/richinsley/comfy2ayon/ayon"
	"github.com/richinsley/comfy2ayon/config"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/logger"
	"github.com/richinsley/comfy2ayon/settings"
)

// AddonName is the name the addon's settings are stored under on the server.
const AddonName = "comfyui"

// Step names reported to OnStep.
const (
	StepPrepare = "prepare"
	StepClone   = "clone"
	StepModels  = "models"
	StepRun     = "run"
)

// Launcher holds the state computed by Prepare for the later steps.
type Launcher struct {
	svc          ayon.Service
	git          GitExecutor
	cfg          config.ComfyConfig
	addonVersion string
	log          logger.Logger

	// Platform selects which root paths are used, runtime.GOOS when empty.
	Platform string
	// OnStep is called before each step of Launch.
	OnStep func(step string)

	Settings     settings.AddonSettings
	TemplateData anatomy.Data
	ComfyRoot    string
	CacheDir     string
}

func New(svc ayon.Service, git GitExecutor, cfg config.ComfyConfig, addonVersion string, log logger.Logger) *Launcher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if git == nil {
		git = NewRealExecutor()
	}
	return &Launcher{
		svc:          svc,
		git:          git,
		cfg:          cfg,
		addonVersion: addonVersion,
		log:          log.With(map[string]interface{}{"component": "launcher"}),
	}
}

func (l *Launcher) platform() string {
	if l.Platform != "" {
		return l.Platform
	}
	return runtime.GOOS
}

// Launch runs every step in order and blocks until ComfyUI exits.
func (l *Launcher) Launch(ctx context.Context, project string) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{StepPrepare, func() error { return l.Prepare(ctx, project) }},
		{StepClone, func() error { return l.CloneRepositories(ctx) }},
		{StepModels, l.ConfigureExtraModels},
		{StepRun, func() error { return l.Run(ctx) }},
	}
	for _, s := range steps {
		if l.OnStep != nil {
			l.OnStep(s.name)
		}
		if err := s.fn(); err != nil {
			return err
		}
	}
	return nil
}

// Prepare loads the project anatomy and the addon settings and solves the ComfyUI
// root and cache directory.
func (l *Launcher) Prepare(ctx context.Context, project string) error {
	const op = "Launcher.Prepare"
	if project == "" {
		return errdefs.Configuration(op, "no project in context")
	}
	p, err := l.svc.GetProject(ctx, project)
	if err != nil {
		return err
	}
	if p == nil {
		return errdefs.NotFound(op, "project %s not found", project)
	}
	a, err := anatomy.ParseAnatomy(p.Config)
	if err != nil {
		return err
	}
	l.TemplateData = anatomy.Data{
		"project": map[string]any{"name": p.Name, "code": p.Code},
		"root":    a.RootData(l.platform()),
	}

	raw, err := l.svc.GetAddonProjectSettings(ctx, AddonName, l.addonVersion, project)
	if err != nil {
		return err
	}
	if l.Settings, err = settings.FromMap(raw); err != nil {
		return err
	}

	root, err := anatomy.Template(l.Settings.Repositories.BaseTemplate).FormatStrict(l.TemplateData)
	if err != nil {
		return errdefs.Configuration(op, "solving base template: %v", err)
	}
	l.ComfyRoot = filepath.Clean(root)

	l.CacheDir = ""
	if l.Settings.Caching.Enabled {
		dir, err := anatomy.Template(l.Settings.Caching.CacheDirTemplate).FormatStrict(l.TemplateData)
		if err != nil {
			return errdefs.Configuration(op, "solving cache dir template: %v", err)
		}
		l.CacheDir = dir
	}
	l.log.Debug("Prepared launch", map[string]interface{}{
		"comfy_root": l.ComfyRoot,
		"plugins":    l.Settings.PluginNames(),
		"cache_dir":  l.CacheDir,
	})
	return nil
}

// CloneRepositories clones the base repository into ComfyRoot and every plugin into
// custom_nodes, then checks out their tags. Existing clones are reused.
func (l *Launcher) CloneRepositories(ctx context.Context) error {
	if l.ComfyRoot == "" {
		return errdefs.Configuration("Launcher.CloneRepositories", "Prepare has not run")
	}
	if err := l.cloneAt(ctx, l.Settings.Repositories.Base, l.ComfyRoot); err != nil {
		return err
	}
	for _, p := range l.Settings.Repositories.Plugins {
		if p.Name == "" {
			l.log.Warn("Skipping plugin without a name", map[string]interface{}{"url": p.URL})
			continue
		}
		if err := l.cloneAt(ctx, p.RepositorySettings, l.PluginRoot(p.Name)); err != nil {
			return err
		}
	}
	return nil
}

// PluginRoot is where the named custom node is cloned.
func (l *Launcher) PluginRoot(name string) string {
	return filepath.Join(l.ComfyRoot, "custom_nodes", name)
}

func (l *Launcher) cloneAt(ctx context.Context, repo settings.RepositorySettings, dest string) error {
	fields := map[string]interface{}{"url": repo.URL, "dest": dest}
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errdefs.IO("Launcher.clone", err, "creating %s", filepath.Dir(dest))
		}
		l.log.Info("Cloning repository", fields)
		if err := l.git.Clone(ctx, repo.URL, dest); err != nil {
			return err
		}
	} else if !l.git.IsRepo(ctx, dest) {
		return errdefs.Invalid("Launcher.clone", "%s exists and is not a git repository", dest)
	}
	if repo.Tag != "" {
		l.log.Info("Checking out tag", map[string]interface{}{"dest": dest, "tag": repo.Tag})
		return l.git.Checkout(ctx, dest, repo.Tag)
	}
	return nil
}

// Args returns the launch script followed by its arguments.
func (l *Launcher) Args() []string {
	args := []string{l.cfg.LaunchScript}
	if l.Settings.General.UseCPU {
		args = append(args, "-useCpu")
	}
	if names := l.Settings.PluginNames(); len(names) > 0 {
		args = append(args, "-plugins", strings.Join(names, ","))
	}
	if deps := l.Settings.ExtraDependencies(); len(deps) > 0 {
		args = append(args, "-extraDependencies", strings.Join(deps, ","))
	}
	if l.CacheDir != "" {
		args = append(args, "-cacheDir", l.CacheDir)
	}
	return args
}

// Command builds the process running the launch script through the configured shell
// in ComfyRoot, with PYTHONPATH cleared.
func (l *Launcher) Command(ctx context.Context) (*exec.Cmd, error) {
	const op = "Launcher.Command"
	if l.cfg.LaunchScript == "" {
		return nil, errdefs.Configuration(op, "comfy.launch_script is not set")
	}
	if l.ComfyRoot == "" {
		return nil, errdefs.Configuration(op, "Prepare has not run")
	}
	args := l.Args()
	name := args[0]
	if l.cfg.LaunchShell != "" {
		name = l.cfg.LaunchShell
	} else {
		args = args[1:]
	}
	//nolint:gosec // G204: the script comes from configuration
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.ComfyRoot
	cmd.Env = withoutPythonPath(os.Environ())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// Run starts the launch command and waits for it.
func (l *Launcher) Run(ctx context.Context) error {
	cmd, err := l.Command(ctx)
	if err != nil {
		return err
	}
	l.log.Info("Launching ComfyUI", map[string]interface{}{"cmd": strings.Join(cmd.Args, " "), "cwd": cmd.Dir})
	if err := cmd.Run(); err != nil {
		return errdefs.Service("Launcher.Run", err, "ComfyUI exited")
	}
	return nil
}

func withoutPythonPath(env []string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, "PYTHONPATH=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PYTHONPATH=")
}
