// Package loader applies an API format ComfyUI workflow to a published
// representation: the workflow's AYON_ titled nodes receive the load and save paths
// and the frame range, then the prompt is queued and waited for.
package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/richinsley/comfy2ayon/comfy"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/logger"
)

// Titles of the nodes a workflow exposes to the loader.
const (
	TitleFilenameLoad = "AYON_filename_load"
	TitleFilenameSave = "AYON_filename_save"
	TitleStartFrame   = "AYON_startframe"
	TitleEndFrame     = "AYON_endframe"
)

// ExportDir is the directory next to the source the results are written to.
const ExportDir = "comfyui_export"

// Runner queues a prompt and waits for it; *comfy.ComfyClient is one.
type Runner interface {
	QueuePromptAndProcess(ctx context.Context, prompt *graphapi.Prompt, handlers *comfy.MessageHandlers) (map[string][]comfy.DataOutput, error)
}

// Context is the representation a workflow is applied to.
type Context struct {
	// Source is any file of the representation.
	Source     string
	FrameStart *int
	FrameEnd   *int
}

// ContextFromVersion builds a Context from a representation path and the attributes
// of its version. Missing or malformed frame attributes leave the range unset.
func ContextFromVersion(source string, attrib map[string]any) Context {
	c := Context{Source: source}
	if v, err := cast.ToIntE(attrib["frameStart"]); err == nil && attrib["frameStart"] != nil {
		c.FrameStart = &v
	}
	if v, err := cast.ToIntE(attrib["frameEnd"]); err == nil && attrib["frameEnd"] != nil {
		c.FrameEnd = &v
	}
	return c
}

// MakeFilePaths returns the frame pattern ComfyUI reads the source sequence from and
// the pattern it writes results to, both with a %04d frame token.
func MakeFilePaths(src string) (load, save string) {
	dir := filepath.Dir(src)
	ext := filepath.Ext(src)
	stem := strings.SplitN(strings.TrimSuffix(filepath.Base(src), ext), ".", 2)[0]

	load = filepath.Join(dir, stem+".%04d"+ext)
	save = filepath.Join(dir, ExportDir, stem+"_ComfyUIOutput.%04d"+ext)
	return filepath.ToSlash(load), filepath.ToSlash(save)
}

// Loader applies workflows through a Runner.
type Loader struct {
	runner   Runner
	handlers *comfy.MessageHandlers
	log      logger.Logger
}

// New returns a Loader. Nil handlers log progress through log.
func New(runner Runner, handlers *comfy.MessageHandlers, log logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if handlers == nil {
		handlers = comfy.DefaultMessageHandlers(log)
	}
	return &Loader{runner: runner, handlers: handlers, log: log.With(map[string]interface{}{"component": "loader"})}
}

// Prepare sets the AYON_ titled inputs of prompt for c. The load and save nodes are
// required; frame nodes are set when both the node and the value exist.
func Prepare(prompt *graphapi.Prompt, c Context) (load, save string, err error) {
	const op = "loader.Prepare"
	if prompt == nil || len(prompt.Nodes) == 0 {
		return "", "", errdefs.Invalid(op, "workflow has no nodes")
	}
	if c.Source == "" {
		return "", "", errdefs.Invalid(op, "no source file")
	}
	load, save = MakeFilePaths(c.Source)

	for _, set := range []struct {
		title string
		value string
	}{{TitleFilenameLoad, load}, {TitleFilenameSave, save}} {
		if _, err := prompt.SetInputByTitle(set.title, "", set.value); err != nil {
			return "", "", errdefs.Invalid(op, "%v", err)
		}
	}
	for _, set := range []struct {
		title string
		value *int
	}{{TitleStartFrame, c.FrameStart}, {TitleEndFrame, c.FrameEnd}} {
		if set.value == nil || len(prompt.NodesWithTitle(set.title)) == 0 {
			continue
		}
		if _, err := prompt.SetInputByTitle(set.title, "", *set.value); err != nil {
			return "", "", errdefs.Invalid(op, "%v", err)
		}
	}
	return load, save, nil
}

// Apply prepares prompt for c, creates the export directory, queues the prompt and
// waits for it to finish.
func (l *Loader) Apply(ctx context.Context, prompt *graphapi.Prompt, c Context) (map[string][]comfy.DataOutput, error) {
	load, save, err := Prepare(prompt, c)
	if err != nil {
		return nil, err
	}
	if err := mkdirFor(save); err != nil {
		return nil, err
	}
	l.log.Info("Applying workflow", map[string]interface{}{"load": load, "save": save})
	outputs, err := l.runner.QueuePromptAndProcess(ctx, prompt, l.handlers)
	if err != nil {
		l.log.WithError(err).Error("Workflow failed", map[string]interface{}{"load": load})
		return outputs, err
	}
	return outputs, nil
}

func mkdirFor(pattern string) error {
	dir := filepath.Dir(filepath.FromSlash(pattern))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.IO("loader.mkdir", err, "creating %s", dir)
	}
	return nil
}
