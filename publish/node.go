package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinsley/comfy2ayon/ayon"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/logger"
)

// Widget positions on the publish node.
const (
	widgetFolder = iota
	widgetTask
	widgetVariant
	widgetProductType
	_
	widgetOutputPath
)

// ImageSource knows the most recent image ComfyUI produced.
type ImageSource interface {
	Latest() (string, error)
}

type dirSource string

func (d dirSource) Latest() (string, error) { return LatestImage(string(d)) }

// NodeRequest is the body the publish node's button posts. Empty strings mean "use
// the node's widget or the launch context".
type NodeRequest struct {
	NodeID      graphapi.NodeID `json:"node_id"`
	Workflow    *graphapi.Graph `json:"workflow"`
	FolderPath  string          `json:"folder_path,omitempty"`
	TaskName    string          `json:"task_name,omitempty"`
	Variant     string          `json:"variant,omitempty"`
	ProductType string          `json:"product_type,omitempty"`
}

// Response is the JSON answer of the publish endpoints.
type Response struct {
	Success bool    `json:"success"`
	Output  string  `json:"output,omitempty"`
	Error   string  `json:"error,omitempty"`
	Path    string  `json:"path,omitempty"`
	Record  *Record `json:"record,omitempty"`
}

// NodePublisher publishes the latest ComfyUI image together with the workflow that
// produced it.
type NodePublisher struct {
	svc       ayon.Service
	publisher *Publisher
	cfg       Config
	images    ImageSource
	log       logger.Logger
}

// NewNodePublisher wires a NodePublisher. A nil images source scans cfg.OutputDir.
func NewNodePublisher(svc ayon.Service, publisher *Publisher, cfg Config, images ImageSource, log logger.Logger) *NodePublisher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if images == nil {
		images = dirSource(cfg.OutputDir)
	}
	return &NodePublisher{
		svc:       svc,
		publisher: publisher,
		cfg:       cfg,
		images:    images,
		log:       log.With(map[string]interface{}{"component": "node_publish"}),
	}
}

// Publisher returns the underlying file publisher.
func (n *NodePublisher) Publisher() *Publisher {
	return n.publisher
}

// Target fills the blanks of t from the launch context and defaults.
func (n *NodePublisher) Target(t OutputTarget) OutputTarget {
	if t.Project == "" {
		t.Project = n.cfg.Project
	}
	if t.FolderPath == "" {
		t.FolderPath = n.cfg.Folder
	}
	if t.TaskName == "" {
		t.TaskName = n.cfg.Task
	}
	if t.Variant == "" {
		t.Variant = n.cfg.DefaultVariant
	}
	if t.ProductType == "" {
		t.ProductType = n.cfg.DefaultProductType
	}
	return t
}

// PublishFromWorkflow saves the latest output image and the posted workflow into the
// product's output directory and publishes both. Once the files are saved locally a
// publish failure still answers with success and says where the image is.
func (n *NodePublisher) PublishFromWorkflow(ctx context.Context, req NodeRequest) Response {
	if req.Workflow == nil {
		return Response{Error: "No workflow provided"}
	}
	node := req.Workflow.GetNodeById(string(req.NodeID))
	if node == nil {
		return Response{Error: fmt.Sprintf("Node with ID %s not found in workflow", req.NodeID)}
	}

	target := OutputTarget{
		FolderPath:  req.FolderPath,
		TaskName:    req.TaskName,
		Variant:     req.Variant,
		ProductType: req.ProductType,
	}
	var outputPath string
	if len(node.WidgetValues) > widgetOutputPath {
		target.FolderPath = firstNonEmpty(target.FolderPath, node.WidgetStringOr(widgetFolder, ""))
		target.TaskName = firstNonEmpty(target.TaskName, node.WidgetStringOr(widgetTask, ""))
		target.Variant = firstNonEmpty(target.Variant, node.WidgetStringOr(widgetVariant, ""))
		target.ProductType = firstNonEmpty(target.ProductType, node.WidgetStringOr(widgetProductType, ""))
		outputPath = node.WidgetStringOr(widgetOutputPath, "")
	}
	target = n.Target(target)

	if outputPath == "" {
		outputPath = n.OutputPathOrFallback(ctx, target)
	}
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		n.log.WithError(err).Error("Could not create output directory", map[string]interface{}{"path": outputPath})
		return Response{Error: errdefs.IO("PublishFromWorkflow", err, "creating %s", outputPath).Error()}
	}

	prefix := n.ProductNamePrefix(ctx, target)
	savePath, counter, err := NextFreeName(outputPath, prefix, "png")
	if err != nil {
		return Response{Error: err.Error()}
	}
	workflowPath := filepath.Join(outputPath, fmt.Sprintf("%s_%05d_workflow.json", prefix, counter))

	if err := req.Workflow.SaveGraphToFile(workflowPath); err != nil {
		return Response{Error: fmt.Sprintf("saving workflow: %v", err)}
	}
	latest, err := n.images.Latest()
	if err != nil {
		return Response{Error: err.Error()}
	}
	n.log.Info("Using latest image", map[string]interface{}{"image": latest})
	if err := CopyFile(latest, savePath); err != nil {
		return Response{Error: err.Error()}
	}

	res := n.publisher.Run(ctx, Request{
		ProjectName: target.Project,
		FolderPath:  target.FolderPath,
		TaskName:    target.TaskName,
		ProductName: prefix,
		ProductType: target.ProductType,
		Files:       []string{savePath, workflowPath},
	})
	switch r := res.(type) {
	case Success:
		return Response{
			Success: true,
			Output:  fmt.Sprintf("Published %s v%03d. Files saved to %s", prefix, r.Record.Version, outputPath),
			Path:    savePath,
			Record:  r.Record,
		}
	case Failure:
		return Response{
			Success: true,
			Output:  fmt.Sprintf("Image saved to %s (AYON publishing failed: %v)", savePath, r.Err),
			Path:    savePath,
			Record:  r.Partial,
		}
	}
	return Response{Success: true, Output: "Image saved to " + savePath, Path: savePath}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
