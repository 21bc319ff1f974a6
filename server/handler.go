// Package server exposes the HTTP endpoints the ComfyUI frontend calls to publish
// images and files to AYON and to fill the publish node's drop-downs. Every response
// is a JSON object with a "success" flag and an "error" message on failure.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richinsley/comfy2ayon/ayon"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/logger"
	"github.com/richinsley/comfy2ayon/publish"
)

// DefaultTask is offered when a folder's tasks can't be listed.
const DefaultTask = "main"

// Handler provides the endpoint handlers.
type Handler struct {
	svc          ayon.Service
	node         *publish.NodePublisher
	productTypes []string
	variants     []string
	log          logger.Logger
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Service answers folder, task and product type lookups (required).
	Service ayon.Service
	// NodePublisher publishes images and files (required).
	NodePublisher *publish.NodePublisher
	// ProductTypes and Variants are offered when AYON has none.
	ProductTypes []string
	Variants     []string
	Logger       logger.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{
		svc:          cfg.Service,
		node:         cfg.NodePublisher,
		productTypes: cfg.ProductTypes,
		variants:     cfg.Variants,
		log:          log.With(map[string]interface{}{"component": "server"}),
	}
}

// Routes returns an http.Handler with all routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /publish_image", h.instrument("publish_image", h.PublishImage))
	mux.HandleFunc("POST /publish_files", h.instrument("publish_files", h.PublishFiles))
	mux.HandleFunc("POST /update_output_path", h.instrument("update_output_path", h.UpdateOutputPath))
	mux.HandleFunc("POST /get_tasks_for_folder", h.instrument("get_tasks_for_folder", h.TasksForFolder))
	mux.HandleFunc("POST /selected_files", h.instrument("selected_files", h.SelectedFiles))
	mux.HandleFunc("GET /folders", h.instrument("folders", h.Folders))
	mux.HandleFunc("GET /product_types", h.instrument("product_types", h.ProductTypes))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// reply is a response body that knows whether it reports success.
type reply interface {
	succeeded() bool
}

type endpointFunc func(r *http.Request) (int, reply)

// instrument writes the endpoint's reply and records it in the request metrics.
func (h *Handler) instrument(endpoint string, fn endpointFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status, body := fn(r)
		RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(endpoint, strconv.FormatBool(body.succeeded())).Inc()
		writeJSON(w, status, body)
	}
}

// === Responses ===

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

func (ErrorResponse) succeeded() bool { return false }

func errorReply(err error) ErrorResponse {
	return ErrorResponse{Error: err.Error(), Kind: string(errdefs.KindOf(err))}
}

// statusFor maps request errors to a status code; everything past request parsing is
// reported with 200 and success false, which is what the frontend expects.
func statusFor(err error) int {
	if errdefs.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errdefs.IsIO(err) {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

type publishResponse struct{ publish.Response }

func (p publishResponse) succeeded() bool { return p.Success }

type FilesResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Record  *publish.Record `json:"record,omitempty"`
}

func (f FilesResponse) succeeded() bool { return f.Success }

type OutputPathResponse struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path"`
	Error      string `json:"error,omitempty"`
}

func (o OutputPathResponse) succeeded() bool { return o.Success }

type ListResponse struct {
	Success      bool     `json:"success"`
	Tasks        []string `json:"tasks,omitempty"`
	Folders      []string `json:"folders,omitempty"`
	ProductTypes []string `json:"product_types,omitempty"`
	Variants     []string `json:"variants,omitempty"`
}

func (ListResponse) succeeded() bool { return true }

// === Handlers ===

// PublishImage publishes the latest output image and the posted workflow.
// POST /publish_image
func (h *Handler) PublishImage(r *http.Request) (int, reply) {
	var req publish.NodeRequest
	if err := decode(r, publishImageSchema, &req); err != nil {
		return statusFor(err), errorReply(err)
	}
	resp := h.node.PublishFromWorkflow(r.Context(), req)
	if !resp.Success {
		h.log.Warn("Publish image failed", map[string]interface{}{"node_id": string(req.NodeID), "error": resp.Error})
	}
	return http.StatusOK, publishResponse{resp}
}

// FilesRequest is the body of /publish_files. Blank context fields fall back to the
// launch context; a blank product name is solved from the product name profiles.
type FilesRequest struct {
	Files       []string `json:"files"`
	ProjectName string   `json:"project_name,omitempty"`
	FolderPath  string   `json:"folder_path,omitempty"`
	TaskName    string   `json:"task_name,omitempty"`
	ProductName string   `json:"product_name,omitempty"`
	ProductType string   `json:"product_type,omitempty"`
	Variant     string   `json:"variant,omitempty"`
	Description string   `json:"description,omitempty"`
}

// PublishFiles publishes arbitrary files as one version.
// POST /publish_files
func (h *Handler) PublishFiles(r *http.Request) (int, reply) {
	var req FilesRequest
	if err := decode(r, publishFilesSchema, &req); err != nil {
		return statusFor(err), errorReply(err)
	}
	target := h.node.Target(publish.OutputTarget{
		Project:     req.ProjectName,
		FolderPath:  req.FolderPath,
		TaskName:    req.TaskName,
		ProductType: req.ProductType,
		Variant:     req.Variant,
	})
	productName := req.ProductName
	if productName == "" {
		productName = h.node.ProductNamePrefix(r.Context(), target)
	}

	res := h.node.Publisher().Run(r.Context(), publish.Request{
		ProjectName: target.Project,
		FolderPath:  target.FolderPath,
		TaskName:    target.TaskName,
		ProductName: productName,
		ProductType: target.ProductType,
		Files:       req.Files,
		Description: req.Description,
	})
	switch res := res.(type) {
	case publish.Success:
		return http.StatusOK, FilesResponse{Success: true, Record: res.Record}
	case publish.Failure:
		return http.StatusOK, FilesResponse{Error: res.Error(), Kind: string(res.Kind), Record: res.Partial}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "unexpected publish result"}
}

type outputPathRequest struct {
	FolderPath  string `json:"folder_path"`
	TaskName    string `json:"task_name"`
	Variant     string `json:"variant"`
	ProductType string `json:"product_type"`
}

// UpdateOutputPath computes the directory the publish node saves into. Lookup
// failures still answer with the fallback directory.
// POST /update_output_path
func (h *Handler) UpdateOutputPath(r *http.Request) (int, reply) {
	var req outputPathRequest
	if err := decode(r, outputPathSchema, &req); err != nil {
		fallback := h.node.FallbackOutputPath("", "")
		return http.StatusOK, OutputPathResponse{Error: err.Error(), OutputPath: fallback}
	}
	target := h.node.Target(publish.OutputTarget{
		FolderPath:  req.FolderPath,
		TaskName:    req.TaskName,
		Variant:     req.Variant,
		ProductType: req.ProductType,
	})
	path := h.node.OutputPathOrFallback(r.Context(), target)
	h.log.Info("Generated output path", map[string]interface{}{"path": path})
	return http.StatusOK, OutputPathResponse{Success: true, OutputPath: path}
}

type tasksRequest struct {
	ProjectName string `json:"project_name"`
	FolderPath  string `json:"folder_path"`
}

// TasksForFolder lists the folder's task names, sorted.
// POST /get_tasks_for_folder
func (h *Handler) TasksForFolder(r *http.Request) (int, reply) {
	var req tasksRequest
	if err := decode(r, tasksSchema, &req); err != nil {
		return statusFor(err), errorReply(err)
	}
	project := h.node.Target(publish.OutputTarget{Project: req.ProjectName}).Project
	if project == "" || req.FolderPath == "" {
		return http.StatusOK, ErrorResponse{Error: "Missing project_name or folder_path"}
	}
	return http.StatusOK, ListResponse{Success: true, Tasks: h.taskNames(r.Context(), project, req.FolderPath)}
}

func (h *Handler) taskNames(ctx context.Context, project, folderPath string) []string {
	tasks, err := h.svc.GetTasksByFolderPath(ctx, project, folderPath)
	if err != nil {
		h.log.WithError(err).Warn("Could not fetch tasks", map[string]interface{}{"folder": folderPath})
		return []string{DefaultTask}
	}
	if len(tasks) == 0 {
		return []string{DefaultTask}
	}
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

type selectedFilesRequest struct {
	NodeID       graphapi.NodeID `json:"node_id"`
	AppendMode   bool            `json:"append_mode"`
	CurrentFiles []string        `json:"current_files"`
	Files        []string        `json:"files"`
}

// SelectedFiles merges the files picked in the frontend into the node's list. In
// append mode the current files come first and duplicates are dropped.
// POST /selected_files
func (h *Handler) SelectedFiles(r *http.Request) (int, reply) {
	var req selectedFilesRequest
	if err := decode(r, selectedFilesSchema, &req); err != nil {
		return statusFor(err), errorReply(err)
	}
	if req.NodeID == "" {
		return http.StatusBadRequest, ErrorResponse{Error: "No node_id provided"}
	}
	files := req.Files
	if req.AppendMode && len(req.CurrentFiles) > 0 {
		files = MergeFiles(req.CurrentFiles, req.Files)
	}
	if files == nil {
		files = []string{}
	}
	return http.StatusOK, selectedFilesResponse{Success: true, Files: files}
}

// files must be present even when empty
type selectedFilesResponse struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
}

func (s selectedFilesResponse) succeeded() bool { return s.Success }

// MergeFiles appends the entries of added missing from current, keeping order.
func MergeFiles(current, added []string) []string {
	out := make([]string, 0, len(current)+len(added))
	seen := make(map[string]bool, len(current)+len(added))
	for _, list := range [][]string{current, added} {
		for _, f := range list {
			if seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Folders lists the project's folder paths, sorted, or "/" when there are none.
// GET /folders?project_name=
func (h *Handler) Folders(r *http.Request) (int, reply) {
	project := h.node.Target(publish.OutputTarget{Project: r.URL.Query().Get("project_name")}).Project
	paths := []string{"/"}
	if project != "" {
		folders, err := h.svc.GetFolders(r.Context(), project)
		if err != nil {
			h.log.WithError(err).Warn("Could not fetch folders", map[string]interface{}{"project": project})
		} else if len(folders) > 0 {
			paths = make([]string, 0, len(folders))
			for _, f := range folders {
				paths = append(paths, f.Path)
			}
			sort.Strings(paths)
		}
	}
	return http.StatusOK, ListResponse{Success: true, Folders: paths}
}

// ProductTypes lists the project's product types and the configured variants.
// GET /product_types?project_name=
func (h *Handler) ProductTypes(r *http.Request) (int, reply) {
	project := h.node.Target(publish.OutputTarget{Project: r.URL.Query().Get("project_name")}).Project
	types := h.productTypes
	if project != "" {
		if fetched, err := h.svc.GetProductTypes(r.Context(), project); err != nil {
			h.log.WithError(err).Warn("Could not fetch product types", map[string]interface{}{"project": project})
		} else if len(fetched) > 0 {
			types = fetched
		}
	}
	return http.StatusOK, ListResponse{Success: true, ProductTypes: types, Variants: h.variants}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
