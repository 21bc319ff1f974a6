package ayon

import (
	"encoding/json"
	"strings"
)

// Project is a project entity. Config carries the project anatomy (roots,
// templates).
type Project struct {
	Name         string         `json:"name"`
	Code         string         `json:"code"`
	Active       bool           `json:"active,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	ProductTypes []ProductType  `json:"productTypes,omitempty"`
}

type ProductType struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type Folder struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	FolderType string `json:"folderType,omitempty"`
	ParentID   string `json:"parentId,omitempty"`
}

type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TaskType string `json:"taskType,omitempty"`
	FolderID string `json:"folderId,omitempty"`
}

type Product struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	ProductType string         `json:"productType"`
	FolderID    string         `json:"folderId"`
	Data        map[string]any `json:"data,omitempty"`
}

type Version struct {
	ID        string         `json:"id,omitempty"`
	Version   int            `json:"version"`
	ProductID string         `json:"productId"`
	TaskID    string         `json:"taskId,omitempty"`
	Author    string         `json:"author,omitempty"`
	Status    string         `json:"status,omitempty"`
	Attrib    map[string]any `json:"attrib,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type Representation struct {
	ID        string               `json:"id,omitempty"`
	Name      string               `json:"name"`
	VersionID string               `json:"versionId"`
	Files     []RepresentationFile `json:"files"`
	Tags      []string             `json:"tags,omitempty"`
	Data      map[string]any       `json:"data,omitempty"`
	Attrib    map[string]any       `json:"attrib,omitempty"`
}

type RepresentationFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// CreateResult is what a create call returned. Depending on the server the body is
// the whole entity, an {"id": ...} object or a bare id string; Entity is empty unless
// the body carried more than the id.
type CreateResult struct {
	ID     string
	Entity json.RawMessage
}

// HasEntity reports whether the full entity came back with the id.
func (r CreateResult) HasEntity() bool {
	return len(r.Entity) > 0
}

// Decode unmarshals the returned entity into v.
func (r CreateResult) Decode(v any) error {
	return json.Unmarshal(r.Entity, v)
}

func parseCreateResult(body []byte) CreateResult {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return CreateResult{}
	}

	var id string
	if err := json.Unmarshal([]byte(trimmed), &id); err == nil {
		return CreateResult{ID: id}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		// some proxies hand back the id as plain text
		return CreateResult{ID: strings.Trim(trimmed, `"`)}
	}
	res := CreateResult{}
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &res.ID)
	}
	if len(fields) > 1 {
		res.Entity = json.RawMessage(trimmed)
	}
	return res
}
