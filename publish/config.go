package publish

import (
	"github.com/richinsley/comfy2ayon/config"
)

// Config is everything the publisher would otherwise read from the environment.
type Config struct {
	TemplateName       string
	Author             string
	Status             string
	FPS                float64
	ResolutionWidth    int
	ResolutionHeight   int
	Colorspace         string
	ReviewTags         []string
	DefaultProductType string
	DefaultVariant     string
	DefaultTask        string

	// Context the node publisher falls back to.
	Project     string
	Folder      string
	Task        string
	Workdir     string
	ProjectRoot string
	OutputDir   string
	Bundle      string
}

// ConfigFrom copies the publish relevant parts of cfg.
func ConfigFrom(cfg config.Config) Config {
	author := cfg.Context.User
	if author == "" {
		author = "system"
	}
	return Config{
		TemplateName:       cfg.Publish.TemplateName,
		Author:             author,
		Status:             cfg.Publish.Status,
		FPS:                cfg.Publish.FPS,
		ResolutionWidth:    cfg.Publish.ResolutionWidth,
		ResolutionHeight:   cfg.Publish.ResolutionHeight,
		Colorspace:         cfg.Publish.Colorspace,
		ReviewTags:         append([]string(nil), cfg.Publish.ReviewTags...),
		DefaultProductType: cfg.Publish.DefaultProductType,
		DefaultVariant:     cfg.Publish.DefaultVariant,
		DefaultTask:        cfg.Publish.DefaultTask,
		Project:            cfg.Context.Project,
		Folder:             cfg.Context.Folder,
		Task:               cfg.Context.Task,
		Workdir:            cfg.Context.Workdir,
		ProjectRoot:        cfg.Context.ProjectRoot,
		OutputDir:          cfg.Comfy.OutputDir,
		Bundle:             cfg.Context.Bundle,
	}
}
