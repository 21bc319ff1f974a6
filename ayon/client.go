// Package ayon is a small REST client for the AYON server: the project, folder,
// task, product, version and representation calls the publisher needs.
package ayon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/richinsley/comfy2ayon/config"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/logger"
)

// Service is the set of AYON operations used by the publisher and the endpoints.
type Service interface {
	GetProject(ctx context.Context, project string) (*Project, error)
	GetFolderByPath(ctx context.Context, project, folderPath string) (*Folder, error)
	GetFolders(ctx context.Context, project string) ([]Folder, error)
	GetTasksByFolderPath(ctx context.Context, project, folderPath string) ([]Task, error)
	GetTaskByFolderPath(ctx context.Context, project, folderPath, taskName string) (*Task, error)
	GetProductByName(ctx context.Context, project, folderID, name string) (*Product, error)
	GetProduct(ctx context.Context, project, productID string) (*Product, error)
	CreateProduct(ctx context.Context, project string, product Product) (CreateResult, error)
	GetVersions(ctx context.Context, project, productID string) ([]Version, error)
	CreateVersion(ctx context.Context, project string, version Version) (CreateResult, error)
	CreateRepresentation(ctx context.Context, project string, rep Representation) (CreateResult, error)
	UploadReviewable(ctx context.Context, project, versionID, filePath string) error
	GetProductTypes(ctx context.Context, project string) ([]string, error)
	GetAddonProjectSettings(ctx context.Context, addon, version, project string) (map[string]any, error)
	GetBundleSettings(ctx context.Context, bundle, project string) (map[string]map[string]any, error)
}

// Client talks to the AYON REST API with an API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        logger.Logger
}

var _ Service = (*Client)(nil)

// NewClient creates a Client from configuration.
func NewClient(cfg config.AyonConfig, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func projectPath(project string, parts ...string) string {
	p := "/api/projects/" + url.PathEscape(project)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// do sends one request. body is JSON encoded unless it is an io.Reader; the response
// is decoded into out when out is not nil. The raw body is returned for create calls.
func (c *Client) do(ctx context.Context, method, p string, query url.Values, body any, out any, headers map[string]string) ([]byte, error) {
	op := method + " " + p
	u := c.baseURL + p
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, errdefs.Invalid(op, "encoding request body: %v", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, errdefs.Invalid(op, "building request: %v", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errdefs.Service(op, err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Service(op, err, "reading response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errdefs.NotFound(op, "%s", detail(raw, resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errdefs.Service(op, nil, "%s", detail(raw, resp.Status))
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, errdefs.Service(op, err, "decoding response")
		}
	}
	return raw, nil
}

// detail pulls the "detail" message AYON puts in error bodies.
func detail(raw []byte, status string) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		return status + ": " + body.Detail
	}
	return status
}

func (c *Client) GetProject(ctx context.Context, project string) (*Project, error) {
	var p Project
	if _, err := c.do(ctx, http.MethodGet, projectPath(project), nil, nil, &p, nil); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetFolders(ctx context.Context, project string) ([]Folder, error) {
	var body struct {
		Folders []Folder `json:"folders"`
	}
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "folders"), nil, nil, &body, nil); err != nil {
		return nil, err
	}
	return body.Folders, nil
}

func (c *Client) GetFolderByPath(ctx context.Context, project, folderPath string) (*Folder, error) {
	const op = "GetFolderByPath"
	want := "/" + strings.Trim(folderPath, "/")

	var body struct {
		Folders []Folder `json:"folders"`
	}
	q := url.Values{"path": {want}}
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "folders"), q, nil, &body, nil); err != nil {
		return nil, err
	}
	for i := range body.Folders {
		if "/"+strings.Trim(body.Folders[i].Path, "/") == want {
			return &body.Folders[i], nil
		}
	}
	return nil, errdefs.NotFound(op, "folder not found: %s", folderPath)
}

func (c *Client) GetTasksByFolderPath(ctx context.Context, project, folderPath string) ([]Task, error) {
	folder, err := c.GetFolderByPath(ctx, project, folderPath)
	if err != nil {
		return nil, err
	}
	var body struct {
		Tasks []Task `json:"tasks"`
	}
	q := url.Values{"folder_id": {folder.ID}}
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "tasks"), q, nil, &body, nil); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

func (c *Client) GetTaskByFolderPath(ctx context.Context, project, folderPath, taskName string) (*Task, error) {
	tasks, err := c.GetTasksByFolderPath(ctx, project, folderPath)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].Name == taskName {
			return &tasks[i], nil
		}
	}
	return nil, errdefs.NotFound("GetTaskByFolderPath", "task %q not found in %s", taskName, folderPath)
}

// GetProductByName returns nil without error when the folder has no such product.
func (c *Client) GetProductByName(ctx context.Context, project, folderID, name string) (*Product, error) {
	var body struct {
		Products []Product `json:"products"`
	}
	q := url.Values{"folder_id": {folderID}, "name": {name}}
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "products"), q, nil, &body, nil); err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for i := range body.Products {
		if body.Products[i].Name == name {
			return &body.Products[i], nil
		}
	}
	return nil, nil
}

func (c *Client) GetProduct(ctx context.Context, project, productID string) (*Product, error) {
	var p Product
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "products", productID), nil, nil, &p, nil); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CreateProduct(ctx context.Context, project string, product Product) (CreateResult, error) {
	return c.create(ctx, projectPath(project, "products"), product)
}

func (c *Client) GetVersions(ctx context.Context, project, productID string) ([]Version, error) {
	var body struct {
		Versions []Version `json:"versions"`
	}
	q := url.Values{"product_id": {productID}}
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "versions"), q, nil, &body, nil); err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return body.Versions, nil
}

func (c *Client) CreateVersion(ctx context.Context, project string, version Version) (CreateResult, error) {
	return c.create(ctx, projectPath(project, "versions"), version)
}

func (c *Client) CreateRepresentation(ctx context.Context, project string, rep Representation) (CreateResult, error) {
	return c.create(ctx, projectPath(project, "representations"), rep)
}

func (c *Client) create(ctx context.Context, p string, entity any) (CreateResult, error) {
	raw, err := c.do(ctx, http.MethodPost, p, nil, entity, nil, nil)
	if err != nil {
		return CreateResult{}, err
	}
	res := parseCreateResult(raw)
	if res.ID == "" {
		return res, errdefs.Service("POST "+p, nil, "server returned no id")
	}
	c.log.Debug("created entity", map[string]interface{}{"endpoint": p, "id": res.ID})
	return res, nil
}

// UploadReviewable streams filePath to the version's reviewables.
func (c *Client) UploadReviewable(ctx context.Context, project, versionID, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errdefs.IO("UploadReviewable", err, "opening %s", filePath)
	}
	defer f.Close()

	name := filepath.Base(filePath)
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	q := url.Values{"label": {strings.TrimSuffix(name, path.Ext(name))}}
	_, err = c.do(ctx, http.MethodPost, projectPath(project, "versions", versionID, "reviewables"), q, f, nil, map[string]string{
		"Content-Type": ctype,
		"x-file-name":  name,
	})
	return err
}

// GetProductTypes lists the product types configured on the project.
func (c *Client) GetProductTypes(ctx context.Context, project string) ([]string, error) {
	p, err := c.GetProject(ctx, project)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.ProductTypes))
	for _, pt := range p.ProductTypes {
		out = append(out, pt.Name)
	}
	return out, nil
}

func (c *Client) GetAddonProjectSettings(ctx context.Context, addon, version, project string) (map[string]any, error) {
	p := fmt.Sprintf("/api/addons/%s/%s/settings/%s", url.PathEscape(addon), url.PathEscape(version), url.PathEscape(project))
	var out map[string]any
	if _, err := c.do(ctx, http.MethodGet, p, nil, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBundleSettings returns the settings of every addon in a bundle keyed by addon
// name. An empty bundle means the production bundle.
func (c *Client) GetBundleSettings(ctx context.Context, bundle, project string) (map[string]map[string]any, error) {
	q := url.Values{}
	if bundle != "" {
		q.Set("bundle_name", bundle)
	}
	if project != "" {
		q.Set("project_name", project)
	}
	var body struct {
		Addons []struct {
			Name     string         `json:"name"`
			Version  string         `json:"version"`
			Settings map[string]any `json:"settings"`
		} `json:"addons"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/settings", q, nil, &body, nil); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(body.Addons))
	for _, a := range body.Addons {
		out[a.Name] = a.Settings
	}
	return out, nil
}
