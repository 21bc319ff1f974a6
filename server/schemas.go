package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/richinsley/comfy2ayon/errdefs"
)

// maxBodyBytes bounds request bodies; workflows with embedded previews get large.
const maxBodyBytes = 64 << 20

const nodeIDSchema = `{"type": ["string", "integer"]}`

var (
	publishImageSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"node_id": ` + nodeIDSchema + `,
			"workflow": {"type": "object"},
			"folder_path": {"type": ["string", "null"]},
			"task_name": {"type": ["string", "null"]},
			"variant": {"type": ["string", "null"]},
			"product_type": {"type": ["string", "null"]}
		},
		"required": ["node_id", "workflow"]
	}`)

	publishFilesSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"files": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
			"project_name": {"type": "string"},
			"folder_path": {"type": "string"},
			"task_name": {"type": "string"},
			"product_name": {"type": "string"},
			"product_type": {"type": "string"},
			"variant": {"type": "string"},
			"description": {"type": "string"}
		},
		"required": ["files"]
	}`)

	outputPathSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"folder_path": {"type": ["string", "null"]},
			"task_name": {"type": ["string", "null"]},
			"variant": {"type": ["string", "null"]},
			"product_type": {"type": ["string", "null"]}
		}
	}`)

	tasksSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"project_name": {"type": ["string", "null"]},
			"folder_path": {"type": ["string", "null"]}
		}
	}`)

	selectedFilesSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"node_id": {"type": ["string", "integer", "null"]},
			"append_mode": {"type": "boolean"},
			"current_files": {"type": ["array", "null"], "items": {"type": "string"}},
			"files": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("server: bad request schema: %v", err))
	}
	return schema
}

// decode reads r's body, validates it against schema and unmarshals it into dst.
func decode(r *http.Request, schema *gojsonschema.Schema, dst any) error {
	const op = "decode"
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errdefs.IO(op, err, "reading request body")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errdefs.Invalid(op, "invalid JSON body: %v", err)
	}
	if !result.Valid() {
		var validationErrors []string
		for _, desc := range result.Errors() {
			validationErrors = append(validationErrors, desc.String())
		}
		return errdefs.Invalid(op, "request validation failed: %s", strings.Join(validationErrors, "; "))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errdefs.Invalid(op, "invalid JSON body: %v", err)
	}
	return nil
}
